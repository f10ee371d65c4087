package workflow

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"bitbucket.org/mmdatafocus/storefront_backend/models"
	"bitbucket.org/mmdatafocus/storefront_backend/utils"
)

const (
	warehouseHCM = "HCM"
	industryShop = "SHOP"
	shiftHours   = 12
)

// Promotion names carrying these brand tokens take the long out-of-stock lead
// time. Matched case-insensitively as substrings.
var longLeadBrandTokens = []string{"DEKKO", "SINO"}

// Shop-industry bulk thresholds. Amounts are order-currency totals per
// category across the whole order; units are summed quantities.
var (
	bulkWaterAmountThreshold      = decimal.NewFromInt(20000000)
	bulkWaterUnitThreshold        = 50
	bulkElectricalAmountThreshold = decimal.NewFromInt(10000000)
	bulkElectricalUnitThreshold   = 100
	bulkHardwareAmountThreshold   = decimal.NewFromInt(15000000)
	bulkHardwareUnitThreshold     = 200
)

// ScheduleRequest carries everything the scheduler needs for one line. The
// sibling slice is the whole order including the line itself.
type ScheduleRequest struct {
	Quantity           int
	TheoreticalStock   *decimal.Decimal
	PromotionName      string
	BaseDeliveryDate   string
	Siblings           []*models.OrderLine
	CustomerIndustry   string
	OrderCreatedAt     time.Time
	WarehouseCode      string
	DistrictLeadShifts int
}

// Schedule computes the delivery date and half-day shift for one line. Rules
// are tried in priority order and the first applicable one wins; the result is
// then snapped off HCM weekends before the shift is derived. An unparseable
// caller date yields (nil, nil) and the caller decides the fallback.
func Schedule(req ScheduleRequest) (*time.Time, *models.Shift) {
	base, ok := parseBaseDate(req.BaseDeliveryDate)
	if !ok {
		return nil, nil
	}

	isHCM := strings.EqualFold(strings.TrimSpace(req.WarehouseCode), warehouseHCM)

	var result time.Time
	switch {
	case req.DistrictLeadShifts > 0:
		result = advanceShifts(req.OrderCreatedAt, req.DistrictLeadShifts, isHCM)

	case req.TheoreticalStock != nil && decimal.NewFromInt(int64(req.Quantity)).GreaterThan(*req.TheoreticalStock):
		shifts := outOfStockLeadShifts(isHCM, req.PromotionName)
		result = advanceShifts(weekendReset(req.OrderCreatedAt), shifts, false)

	case strings.EqualFold(strings.TrimSpace(req.CustomerIndustry), industryShop):
		lead := bulkLeadHours(req.Siblings)
		at := baseOrNow(base)
		if lead > 0 {
			result = at.Add(time.Duration(lead) * time.Hour)
		} else {
			result = at
		}

	default:
		result = baseOrNow(base)
	}

	if isHCM {
		result = snapOffWeekend(result)
	}

	shift := models.ShiftFromHour(result.Hour())
	return &result, &shift
}

func parseBaseDate(raw string) (*time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, true
	}
	t, err := utils.ParseDateInput(raw)
	if err != nil {
		return nil, false
	}
	return &t, true
}

func baseOrNow(base *time.Time) time.Time {
	if base != nil {
		return *base
	}
	return time.Now()
}

// advanceShifts moves a timestamp forward by whole half-day shifts. When
// skipWeekends is set a step landing on Saturday or Sunday rolls forward
// until it lands on a weekday; weekend time does not consume shifts.
func advanceShifts(t time.Time, shifts int, skipWeekends bool) time.Time {
	for i := 0; i < shifts; i++ {
		t = t.Add(shiftHours * time.Hour)
		for skipWeekends && isWeekend(t) {
			t = t.Add(shiftHours * time.Hour)
		}
	}
	return t
}

func outOfStockLeadShifts(isHCM bool, promotionName string) int {
	long := false
	upper := strings.ToUpper(promotionName)
	for _, token := range longLeadBrandTokens {
		if strings.Contains(upper, token) {
			long = true
			break
		}
	}
	switch {
	case long:
		return 6
	case isHCM:
		return 2
	default:
		return 4
	}
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// weekendReset snaps a Saturday afternoon or any Sunday forward to Monday
// 08:00 before lead-time advancement begins.
func weekendReset(t time.Time) time.Time {
	if (t.Weekday() == time.Saturday && t.Hour() >= 12) || t.Weekday() == time.Sunday {
		return nextMondayMorning(t)
	}
	return t
}

// snapOffWeekend is the final HCM adjustment: any result landing on Sunday,
// or Saturday at or after 12:00, moves to the next Monday 08:00. A Monday
// result before 08:00 moves up to 08:00.
func snapOffWeekend(t time.Time) time.Time {
	if (t.Weekday() == time.Saturday && t.Hour() >= 12) || t.Weekday() == time.Sunday {
		return nextMondayMorning(t)
	}
	if t.Weekday() == time.Monday && t.Hour() < 8 {
		return time.Date(t.Year(), t.Month(), t.Day(), 8, 0, 0, 0, t.Location())
	}
	return t
}

func nextMondayMorning(t time.Time) time.Time {
	for t.Weekday() != time.Monday {
		t = t.AddDate(0, 0, 1)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 8, 0, 0, 0, t.Location())
}

type bulkCategory int

const (
	bulkNone bulkCategory = iota
	bulkWater
	bulkElectrical
	bulkHardware
)

func categoryOf(label string) bulkCategory {
	upper := strings.ToUpper(label)
	switch {
	case strings.Contains(upper, "WATER") || strings.Contains(upper, "PVC"):
		return bulkWater
	case strings.Contains(upper, "ELECTRIC"):
		return bulkElectrical
	case strings.Contains(upper, "HARDWARE") || strings.Contains(upper, "METAL"):
		return bulkHardware
	default:
		return bulkNone
	}
}

// bulkLeadHours aggregates the whole order by category and returns the extra
// lead in hours when any bucket crosses its threshold. The largest applicable
// lead wins when several buckets qualify.
func bulkLeadHours(siblings []*models.OrderLine) int {
	type bucket struct {
		amount decimal.Decimal
		units  int
	}
	totals := map[bulkCategory]*bucket{
		bulkWater:      {},
		bulkElectrical: {},
		bulkHardware:   {},
	}
	for _, line := range siblings {
		if line == nil {
			continue
		}
		cat := categoryOf(line.CategoryLabel)
		if cat == bulkNone {
			continue
		}
		totals[cat].amount = totals[cat].amount.Add(line.Total)
		totals[cat].units += line.Quantity
	}

	lead := 0
	if b := totals[bulkWater]; b.amount.GreaterThanOrEqual(bulkWaterAmountThreshold) || b.units >= bulkWaterUnitThreshold {
		lead = 24
	}
	if b := totals[bulkHardware]; b.amount.GreaterThanOrEqual(bulkHardwareAmountThreshold) || b.units >= bulkHardwareUnitThreshold {
		lead = 24
	}
	if lead < 12 {
		if b := totals[bulkElectrical]; b.amount.GreaterThanOrEqual(bulkElectricalAmountThreshold) || b.units >= bulkElectricalUnitThreshold {
			lead = 12
		}
	}
	return lead
}
