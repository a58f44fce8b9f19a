package portfolio

import (
	"fmt"
	"time"

	"github.com/gregtusar/coveredcalls/pkg/models"
)

type AlertType string

const (
	AlertAssignmentRisk AlertType = "ASSIGNMENT_RISK"
	AlertExpirationSoon AlertType = "EXPIRATION_SOON"
	AlertLowLiquidity   AlertType = "LOW_LIQUIDITY"
)

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

const ExpirationWarningDays = 7

type Alert struct {
	Type       AlertType `json:"type"`
	Severity   Severity  `json:"severity"`
	PositionID string    `json:"position_id"`
	Symbol     string    `json:"symbol"`
	Message    string    `json:"message"`
	Action     string    `json:"action"`
	CreatedAt  time.Time `json:"created_at"`
}

func CheckAlerts(positions []models.CoveredCall, now time.Time) []Alert {
	alerts := []Alert{}
	for _, p := range positions {
		base := Alert{PositionID: p.ID, Symbol: p.Stock.Symbol, CreatedAt: now}

		if p.Stock.CurrentPrice >= p.Option.Strike {
			a := base
			a.Type, a.Severity = AlertAssignmentRisk, SeverityHigh
			a.Message = fmt.Sprintf("%s is ITM - assignment risk", p.Stock.Symbol)
			a.Action = "Consider rolling or accepting assignment"
			alerts = append(alerts, a)
		}

		if dte := p.Option.DaysToExpirationAt(now); dte <= ExpirationWarningDays {
			a := base
			a.Type, a.Severity = AlertExpirationSoon, SeverityMedium
			a.Message = fmt.Sprintf("%s expires in %d days", p.Stock.Symbol, dte)
			a.Action = "Decide: let expire, roll, or close"
			alerts = append(alerts, a)
		}

		if !p.Option.IsLiquid() {
			a := base
			a.Type, a.Severity = AlertLowLiquidity, SeverityLow
			a.Message = fmt.Sprintf("%s option has low liquidity", p.Stock.Symbol)
			a.Action = "May be difficult to roll or close"
			alerts = append(alerts, a)
		}
	}
	return alerts
}
