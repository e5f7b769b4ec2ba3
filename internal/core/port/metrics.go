package port

// AuthMetrics records authentication outcomes. Outcomes are the stable error
// codes (for example INVALID_CREDENTIALS) or "success".
type AuthMetrics interface {
	ObserveLogin(outcome string)
	ObserveRefresh(outcome string)
	ObserveRegistration(outcome string)
	ObserveLockout()
	ObserveTokenReuse()
	ObserveAuditFailure(sink string)
}
