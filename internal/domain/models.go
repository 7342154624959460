package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Priority string

const (
	PriorityCritical Priority = "CRITICAL"
	PriorityHigh     Priority = "HIGH"
	PriorityNormal   Priority = "NORMAL"
	PriorityLow      Priority = "LOW"
)

// Rank orders priorities for the eligible-reserve tie-break; lower ranks first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	default:
		return 3
	}
}

type Decision string

const (
	DecisionBlock                  Decision = "BLOCK"
	DecisionProceedFit             Decision = "PROCEED_FIT"
	DecisionProceedRecommendRTT    Decision = "PROCEED_RECOMMEND_RTT"
	DecisionProceedWithNewOverflow Decision = "PROCEED_WITH_NEW_OVERFLOW"
)

func (d Decision) Proceeds() bool {
	return d == DecisionProceedFit || d == DecisionProceedRecommendRTT || d == DecisionProceedWithNewOverflow
}

type OriginKind string

const (
	OriginNormalDelivery OriginKind = "NORMAL_DELIVERY"
	OriginRTTReturn      OriginKind = "RTT_RETURN"
)

type Eligibility string

const (
	EligibilityFull           Eligibility = "FULL_RTT_ELIGIBLE"
	EligibilityPartial        Eligibility = "PARTIAL_RTT_ELIGIBLE"
	EligibilityNoSpace        Eligibility = "NO_SPACE"
	EligibilityManualHold     Eligibility = "MANUAL_HOLD"
	EligibilityQualityPending Eligibility = "QUALITY_PENDING"
)

const (
	RoleAdmin    = "admin"
	RoleManager  = "manager"
	RoleOperator = "operator"
)

type Tank struct {
	ID                  string          `json:"id"`
	StationID           string          `json:"station_id"`
	Name                string          `json:"name"`
	FuelType            string          `json:"fuel_type"`
	CapacityLiters      decimal.Decimal `json:"capacity_liters"`
	CurrentVolumeLiters decimal.Decimal `json:"current_volume_liters"`
	CreatedAt           time.Time       `json:"created_at"`
}

func (t Tank) AvailableSpace() decimal.Decimal {
	return t.CapacityLiters.Sub(t.CurrentVolumeLiters)
}

func (t Tank) FillPercentage() decimal.Decimal {
	if !t.CapacityLiters.IsPositive() {
		return decimal.Zero
	}
	return t.CurrentVolumeLiters.Div(t.CapacityLiters).Mul(decimal.NewFromInt(100)).Round(2)
}

type TankCreateRequest struct {
	StationID           string          `json:"station_id"`
	Name                string          `json:"name"`
	FuelType            string          `json:"fuel_type"`
	CapacityLiters      decimal.Decimal `json:"capacity_liters"`
	CurrentVolumeLiters decimal.Decimal `json:"current_volume_liters"`
}

type Delivery struct {
	ID                string          `json:"id"`
	StationID         string          `json:"station_id"`
	TankID            string          `json:"tank_id"`
	FuelType          string          `json:"fuel_type"`
	VolumeLiters      decimal.Decimal `json:"volume_liters"`
	CostPerLiter      decimal.Decimal `json:"cost_per_liter"`
	DeliveryDate      time.Time       `json:"delivery_date"`
	DeliveryTime      string          `json:"delivery_time"`
	SupplierName      string          `json:"supplier_name"`
	InvoiceNumber     string          `json:"invoice_number"`
	DeliveryReference string          `json:"delivery_reference"`
	OriginKind        OriginKind      `json:"origin_kind"`
	SourceOverflowID  string          `json:"source_overflow_id,omitempty"`
	CreatedBy         string          `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
}

type OverflowRecord struct {
	ID                    string          `json:"id"`
	StationID             string          `json:"station_id"`
	TankID                string          `json:"tank_id"`
	FuelType              string          `json:"fuel_type"`
	OriginalDeliveryID    string          `json:"original_delivery_id"`
	OverflowVolumeLiters  decimal.Decimal `json:"overflow_volume_liters"`
	RemainingVolumeLiters decimal.Decimal `json:"remaining_volume_liters"`
	CostPerLiterUGX       decimal.Decimal `json:"cost_per_liter_ugx"`
	DeliveryReference     string          `json:"delivery_reference"`
	SupplierName          string          `json:"supplier_name"`
	PriorityLevel         Priority        `json:"priority_level"`
	ManualHold            bool            `json:"manual_hold"`
	QualityApproved       bool            `json:"quality_approved"`
	IsExhausted           bool            `json:"is_exhausted"`
	OverflowDate          time.Time       `json:"overflow_date"`
	OverflowTime          string          `json:"overflow_time"`
	StorageReason         string          `json:"storage_reason"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// Eligible reports whether the record can currently be returned to its tank.
func (o OverflowRecord) Eligible() bool {
	return !o.IsExhausted && o.RemainingVolumeLiters.IsPositive() && !o.ManualHold && o.QualityApproved
}

// FIFOLayer is the cost layer the trigger layer derives from each delivery row.
type FIFOLayer struct {
	DeliveryID   string          `json:"delivery_id"`
	TankID       string          `json:"tank_id"`
	VolumeLiters decimal.Decimal `json:"volume_liters"`
	CostPerLiter decimal.Decimal `json:"cost_per_liter"`
	CreatedAt    time.Time       `json:"created_at"`
}

type PreValidateRequest struct {
	TankID       string          `json:"tank_id"`
	VolumeLiters decimal.Decimal `json:"volume_liters"`
	FuelType     string          `json:"fuel_type,omitempty"`
}

type RTTOption struct {
	OverflowID        string          `json:"overflow_id"`
	DeliveryReference string          `json:"delivery_reference"`
	RemainingVolume   decimal.Decimal `json:"remaining_volume"`
	MaxReturnable     decimal.Decimal `json:"max_returnable"`
	Priority          Priority        `json:"priority"`
	OverflowDate      string          `json:"overflow_date"`
}

type PreValidateResponse struct {
	TankID             string          `json:"tank_id"`
	Decision           Decision        `json:"decision"`
	Rationale          string          `json:"rationale"`
	CapacityLiters     decimal.Decimal `json:"capacity_liters"`
	CurrentVolume      decimal.Decimal `json:"current_volume_liters"`
	AvailableSpace     decimal.Decimal `json:"available_space"`
	TotalOverflow      decimal.Decimal `json:"total_overflow"`
	SpaceNeeded        decimal.Decimal `json:"space_needed"`
	SuggestedRTTVolume decimal.Decimal `json:"suggested_rtt_volume"`
	OverflowAmount     decimal.Decimal `json:"overflow_amount"`
	TankVolumePortion  decimal.Decimal `json:"tank_volume_portion"`
	RTTOptions         []RTTOption     `json:"rtt_options"`
}

type DeliverySubmitRequest struct {
	TankID            string          `json:"tank_id"`
	VolumeLiters      decimal.Decimal `json:"volume_liters"`
	CostPerLiter      decimal.Decimal `json:"cost_per_liter"`
	SupplierName      string          `json:"supplier_name"`
	InvoiceNumber     string          `json:"invoice_number"`
	DeliveryDate      string          `json:"delivery_date"`
	DeliveryTime      string          `json:"delivery_time"`
	FuelType          string          `json:"fuel_type,omitempty"`
	DeliveryReference string          `json:"delivery_reference,omitempty"`
}

type DeliverySubmitResponse struct {
	DeliveryID      string          `json:"delivery_id"`
	Decision        Decision        `json:"decision"`
	Rationale       string          `json:"rationale"`
	Delivery        Delivery        `json:"delivery"`
	OverflowCreated bool            `json:"overflow_created"`
	OverflowVolume  decimal.Decimal `json:"overflow_volume"`
	Overflow        *OverflowRecord `json:"overflow,omitempty"`
}

type RTTRequest struct {
	OverflowID         string          `json:"overflow_id"`
	ReturnVolumeLiters decimal.Decimal `json:"return_volume_liters"`
}

type RTTResponse struct {
	NewDeliveryID         string          `json:"new_delivery_id"`
	OverflowID            string          `json:"overflow_id"`
	ReturnedVolume        decimal.Decimal `json:"returned_volume"`
	RemainingOverflow     decimal.Decimal `json:"remaining_overflow"`
	IsExhausted           bool            `json:"is_exhausted"`
	TankFillPercentage    decimal.Decimal `json:"tank_fill_percentage"`
	TankRemainingOverflow decimal.Decimal `json:"tank_remaining_overflow"`
}

type EligibleOverflow struct {
	OverflowID        string          `json:"overflow_id"`
	DeliveryReference string          `json:"delivery_reference"`
	RemainingVolume   decimal.Decimal `json:"remaining_volume"`
	Priority          Priority        `json:"priority"`
	OverflowDate      string          `json:"overflow_date"`
	AgeDays           int             `json:"age_days"`
	CostPerLiterUGX   decimal.Decimal `json:"cost_per_liter_ugx"`
}

type OverflowHoldRequest struct {
	Hold   bool   `json:"hold"`
	Reason string `json:"reason"`
}

type OverflowQualityRequest struct {
	Approved bool   `json:"approved"`
	Note     string `json:"note"`
}

type DashboardEntry struct {
	Overflow       OverflowRecord  `json:"overflow"`
	Classification Eligibility     `json:"classification"`
	MaxReturnable  decimal.Decimal `json:"max_returnable"`
}

type TankOverflowSummary struct {
	TankID         string              `json:"tank_id"`
	TankName       string              `json:"tank_name"`
	FuelType       string              `json:"fuel_type"`
	CapacityLiters decimal.Decimal     `json:"capacity_liters"`
	CurrentVolume  decimal.Decimal     `json:"current_volume_liters"`
	FillPercentage decimal.Decimal     `json:"fill_percentage"`
	AvailableSpace decimal.Decimal     `json:"available_space"`
	TotalReserves  decimal.Decimal     `json:"total_reserves"`
	Counts         map[Eligibility]int `json:"counts"`
	Entries        []DashboardEntry    `json:"entries"`
}

type OverflowDashboard struct {
	StationID     string                `json:"station_id"`
	TotalReserves decimal.Decimal       `json:"total_reserves"`
	Tanks         []TankOverflowSummary `json:"tanks"`
	Degraded      bool                  `json:"degraded"`
	GeneratedAt   time.Time             `json:"generated_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	Role        string   `json:"role"`
	StationIDs  []string `json:"station_ids"`
	ExpiresAt   string   `json:"expires_at"`
}

type Actor struct {
	Username   string
	Role       string
	StationIDs []string
}

type UserAccount struct {
	Username   string    `json:"username"`
	Password   string    `json:"-"`
	Role       string    `json:"role"`
	StationIDs []string  `json:"station_ids"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	StationID     string    `json:"station_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
