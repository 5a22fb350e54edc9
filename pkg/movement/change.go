package movement

// Change is an input event for a recalculation. The set of variants is closed.
type Change interface {
	// ChangeType names the variant, e.g. "location_changed"
	ChangeType() string
	isChange()
}

// LocationChanged reports that the tracked entity moved from Old to New.
type LocationChanged struct {
	Old Sample `json:"old"`
	New Sample `json:"new"`
}

// ManualAdjustment adds distance requested by a user.
type ManualAdjustment struct {
	Distance    float64 `json:"distance"`
	Adjustments float64 `json:"adjustments"`
	Mode        Mode    `json:"mode_of_transit"`
}

// ResetRequest starts a new day.
type ResetRequest struct{}

// SpeedStale reports that recent speed statistics expired.
type SpeedStale struct{}

// UpdatesStalled reports that no location update added distance for UpdatesStalledDelta.
type UpdatesStalled struct{}

const (
	ChangeLocation   = "location_changed"
	ChangeAdjustment = "manual_adjustment"
	ChangeReset      = "reset"
	ChangeSpeedStale = "speed_stale"
	ChangeStalled    = "updates_stalled"
)

func (LocationChanged) ChangeType() string  { return ChangeLocation }
func (ManualAdjustment) ChangeType() string { return ChangeAdjustment }
func (ResetRequest) ChangeType() string     { return ChangeReset }
func (SpeedStale) ChangeType() string       { return ChangeSpeedStale }
func (UpdatesStalled) ChangeType() string   { return ChangeStalled }

func (LocationChanged) isChange()  {}
func (ManualAdjustment) isChange() {}
func (ResetRequest) isChange()     {}
func (SpeedStale) isChange()       {}
func (UpdatesStalled) isChange()   {}
