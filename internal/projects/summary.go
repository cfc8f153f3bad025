package projects

import (
	"github.com/tto-ledger/ledger/internal/money"
)

// FinancialSummary is the collected-basis view of what a project may distribute.
type FinancialSummary struct {
	ProjectID                int64       `json:"project_id"`
	CommissionRate           money.Money `json:"commission_rate"`
	TotalIncome              money.Money `json:"total_income"`
	TotalCollected           money.Money `json:"total_collected"`
	CollectionRate           money.Money `json:"collection_rate"`
	CollectedVAT             money.Money `json:"collected_vat"`
	CollectedNet             money.Money `json:"collected_net"`
	CollectedCommission      money.Money `json:"collected_commission"`
	ClientExpenses           money.Money `json:"client_expenses"`
	SharedExpenses           money.Money `json:"shared_expenses"`
	SharedExpensesRepPortion money.Money `json:"shared_expenses_rep_portion"`
	TTOExpenses              money.Money `json:"tto_expenses"`
	StampDutyDeduction       money.Money `json:"stamp_duty_deduction"`
	RefereeFeeDeduction      money.Money `json:"referee_fee_deduction"`
	TotalExpenseDeduction    money.Money `json:"total_expense_deduction"`
	DistributableAmount      money.Money `json:"distributable_amount"`
}

// Summarize computes the financial summary of a project. It is pure: the same
// snapshot always yields the same summary.
//
// VAT is apportioned to what was actually collected. An income with a zero
// gross amount is treated as having gross 1, which leaves its collection ratio
// at zero because nothing can be collected against it.
func Summarize(snap Snapshot) FinancialSummary {
	p := snap.Project
	rate := p.CommissionRate

	var totalIncome, collected, collectedVAT money.Money
	for _, inc := range snap.Incomes {
		if inc.ProjectID != p.ID {
			continue
		}
		totalIncome = totalIncome.Add(inc.GrossAmount)
		collected = collected.Add(inc.CollectedAmount)

		gross := inc.GrossAmount
		if gross.IsZero() {
			gross = money.New(1)
		}
		ratio, _ := inc.CollectedAmount.Div(gross)
		collectedVAT = collectedVAT.Add(inc.VATAmount.Mul(ratio))
	}

	collectedNet := collected.Sub(collectedVAT)
	commission := collectedNet.Percent(rate)

	var clientExp, sharedExp, ttoExp money.Money
	for _, exp := range snap.Expenses {
		if exp.ProjectID == nil || *exp.ProjectID != p.ID {
			continue
		}
		switch {
		case exp.IsTTOExpense:
			ttoExp = ttoExp.Add(exp.Amount)
		case exp.ShareType == ShareShared:
			sharedExp = sharedExp.Add(exp.Amount)
		default:
			clientExp = clientExp.Add(exp.Amount)
		}
	}
	sharedRep := sharedExp.Percent(rate.Complement())
	stamp := p.ClientStampDuty()
	referee := p.ClientRefereeFee()
	deduction := money.Sum(clientExp, sharedRep, stamp, referee)

	distributable := collectedNet.Sub(commission).Sub(deduction).ClampZero()

	var collectionRate money.Money
	if r, ok := collected.Div(totalIncome); ok {
		collectionRate = r.Mul(money.New(100))
	}

	return FinancialSummary{
		ProjectID:                p.ID,
		CommissionRate:           rate,
		TotalIncome:              totalIncome.Round(),
		TotalCollected:           collected.Round(),
		CollectionRate:           collectionRate.Round(),
		CollectedVAT:             collectedVAT.Round(),
		CollectedNet:             collectedNet.Round(),
		CollectedCommission:      commission.Round(),
		ClientExpenses:           clientExp.Round(),
		SharedExpenses:           sharedExp.Round(),
		SharedExpensesRepPortion: sharedRep.Round(),
		TTOExpenses:              ttoExp.Round(),
		StampDutyDeduction:       stamp.Round(),
		RefereeFeeDeduction:      referee.Round(),
		TotalExpenseDeduction:    deduction.Round(),
		DistributableAmount:      distributable.Round(),
	}
}
