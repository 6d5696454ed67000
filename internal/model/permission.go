package model

// Permission represents a string code for a specific teacher action.
type Permission string

const (
	// PermissionPolicyRead allows viewing a quiz's anti-cheat settings.
	PermissionPolicyRead Permission = "policy:read"

	// PermissionPolicyWrite allows saving a quiz's anti-cheat settings.
	PermissionPolicyWrite Permission = "policy:write"

	// PermissionMonitor allows watching live sessions of a quiz.
	PermissionMonitor Permission = "sessions:monitor"

	// PermissionSessionsIntervene allows force-submitting or disqualifying a session.
	PermissionSessionsIntervene Permission = "sessions:intervene"

	// PermissionAttemptsRead allows viewing graded attempts and history.
	PermissionAttemptsRead Permission = "attempts:read"
)
