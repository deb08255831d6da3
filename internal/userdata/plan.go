package userdata

// PlanStep names one (collection, key column) pair owned by a user.
type PlanStep struct {
	Collection string
	KeyColumn  string
}

// DeletionPlan is the fixed, ordered list of collections holding user data.
// The cascade deletes children before the profile row so an interrupted run
// can be resumed from the top: completed steps delete nothing on the rerun.
// Any new collection holding per-user rows must be added here, or erasure
// requests will miss it.
func DeletionPlan() []PlanStep {
	return []PlanStep{
		{Collection: "training_sessions", KeyColumn: "user_id"},
		{Collection: "session_stats", KeyColumn: "user_id"},
		{Collection: "consents", KeyColumn: "user_id"},
		{Collection: "user_settings", KeyColumn: "user_id"},
		{Collection: "subscriptions", KeyColumn: "user_id"},
		{Collection: "export_requests", KeyColumn: "user_id"},
		{Collection: "rate_limit_counters", KeyColumn: "actor_id"},
		{Collection: "profiles", KeyColumn: "user_id"},
	}
}
