package auth

// Role names stored on user records.
const (
	RoleViewer      = "viewer"
	RoleOperator    = "operator"
	RoleCalibration = "calibration"
	RoleAdmin       = "admin"
	RoleSystemAdmin = "system_admin"
)

var roleCapabilities = map[string][]Capability{
	RoleViewer:      {CapGaugeView},
	RoleOperator:    {CapGaugeView, CapGaugeOperate},
	RoleCalibration: {CapGaugeView, CapGaugeOperate, CapCalibrationManage},
	RoleAdmin:       {CapGaugeView, CapGaugeOperate, CapGaugeManage, CapCalibrationManage, CapUserManage, CapAuditView, CapDataExport},
	RoleSystemAdmin: {CapSystemAdmin},
}

// ValidRole reports whether the role name is one of the known roles.
func ValidRole(role string) bool {
	_, ok := roleCapabilities[role]
	return ok
}

// CapabilitiesFor returns the capability set granted by a role. Unknown
// roles grant nothing.
func CapabilitiesFor(role string) []Capability {
	caps := roleCapabilities[role]
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

// CallerFor builds the Caller record for a user with the given role.
func CallerFor(userID, role string) *Caller {
	return &Caller{
		UserID:      userID,
		Role:        role,
		Permissions: CapabilitiesFor(role),
	}
}
