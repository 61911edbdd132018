package api

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers the REST API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/sync", h.GetSync)

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", h.ListConversations)
			r.Post("/", h.CreateGroup)
			r.Post("/direct", h.ResolveDirect)
			r.Get("/{conversationID}/messages", h.GetMessages)
			r.Post("/{conversationID}/read", h.MarkConversationRead)
			r.Post("/{conversationID}/members", h.AddMember)
			r.Delete("/{conversationID}/members/{memberID}", h.RemoveMember)
		})

		r.Route("/messages", func(r chi.Router) {
			r.Post("/", h.SendMessage)
			r.Delete("/{messageID}", h.DeleteMessage)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.ListNotifications)
			r.Post("/", h.CreateNotification)
			r.Post("/read-all", h.MarkAllNotificationsRead)
			r.Post("/{notificationID}/read", h.MarkNotificationRead)
			r.Delete("/{notificationID}", h.DeleteNotification)
		})

		r.Route("/timer", func(r chi.Router) {
			r.Get("/", h.GetTimer)
			r.Post("/start", h.StartTimer)
			r.Post("/stop", h.StopTimer)
		})

		r.Route("/time-entries", func(r chi.Router) {
			r.Get("/", h.ListTimeEntries)
			r.Post("/", h.CreateTimeEntry)
		})
	})
}
