package application

import (
	"fmt"
	"strconv"

	alarms "msm-monitoring/internal/alarms/domain"
	masterdata "msm-monitoring/internal/masterdata/domain"
)

// RenderAlertMessage formats the alert text from an ancestry snapshot and
// truncates it to the alert message limit.
func RenderAlertMessage(ancestry masterdata.Ancestry, rule alarms.MonitoringRule, value float64) string {
	unit := ancestry.Unit()
	message := fmt.Sprintf("Alert [%s / %s / %s / %s]: Parameter '%s' = %s violated rule %s (%s %s)",
		ancestry.ShopName(),
		ancestry.LinePosition(),
		ancestry.AggregateType(),
		ancestry.ActuatorType(),
		ancestry.ParameterType(),
		withUnit(fmt.Sprintf("%.2f", value), unit),
		rule.Label(),
		rule.Operator,
		withUnit(strconv.FormatFloat(rule.Threshold, 'f', -1, 64), unit),
	)
	return alarms.TruncateMessage(message)
}

func withUnit(value, unit string) string {
	if unit == "" {
		return value
	}
	return value + " " + unit
}
