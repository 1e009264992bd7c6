package dto

import "mentorship/internal/service"

// DashboardResponseDTO is the role-specific overview. Only the sections that
// apply to Role are present.
type DashboardResponseDTO struct {
	Role               string                   `json:"role"`
	BookingCounts      map[string]int           `json:"booking_counts,omitempty"`
	SubscriptionCounts map[string]int           `json:"subscription_counts,omitempty"`
	Sessions           []SessionResponseDTO     `json:"sessions,omitempty"`
	Subscription       *SubscriptionResponseDTO `json:"subscription,omitempty"`
}

func NewDashboardResponse(d *service.Dashboard) DashboardResponseDTO {
	resp := DashboardResponseDTO{Role: string(d.Role)}
	if d.BookingCounts != nil {
		resp.BookingCounts = make(map[string]int, len(d.BookingCounts))
		for k, v := range d.BookingCounts {
			resp.BookingCounts[string(k)] = v
		}
	}
	if d.SubscriptionCounts != nil {
		resp.SubscriptionCounts = make(map[string]int, len(d.SubscriptionCounts))
		for k, v := range d.SubscriptionCounts {
			resp.SubscriptionCounts[string(k)] = v
		}
	}
	for i := range d.Sessions {
		resp.Sessions = append(resp.Sessions, NewSessionResponse(&d.Sessions[i]))
	}
	if d.Subscription != nil {
		s := NewSubscriptionResponse(d.Subscription)
		resp.Subscription = &s
	}
	return resp
}
