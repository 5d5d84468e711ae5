package analytics

// Tracked interaction types.
const (
	EventPageView             = "page_view"
	EventPetView              = "pet_view"
	EventOngView              = "ong_view"
	EventSearch               = "search"
	EventFilterApplied        = "filter_applied"
	EventFavoriteAdded        = "favorite_added"
	EventFavoriteRemoved      = "favorite_removed"
	EventAppointmentScheduled = "appointment_scheduled"
	EventDonationMade         = "donation_made"
	EventShare                = "share"
)

// DefaultCategory is assigned to any event type missing from the lookup,
// so an unknown type is recorded rather than rejected.
const DefaultCategory = "general"

var categories = map[string]string{
	EventPageView:             "navigation",
	EventPetView:              "engagement",
	EventOngView:              "engagement",
	EventFavoriteAdded:        "engagement",
	EventFavoriteRemoved:      "engagement",
	EventShare:                "engagement",
	EventSearch:               "discovery",
	EventFilterApplied:        "discovery",
	EventAppointmentScheduled: "conversion",
	EventDonationMade:         "conversion",
}

// categoryFor maps an event type to its reporting category.
func categoryFor(eventType string) string {
	if category, ok := categories[eventType]; ok {
		return category
	}
	return DefaultCategory
}
