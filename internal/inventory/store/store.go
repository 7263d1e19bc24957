// Package store persists ticket instances. Stores are pure I/O: they return
// sentinel errors and leave translation to domain errors to the services.
package store

import (
	"cmp"
	"slices"

	"boxoffice/internal/inventory/models"
	id "boxoffice/pkg/domain"
)

func sortTickets(tickets []*models.Ticket) {
	slices.SortFunc(tickets, func(a, b *models.Ticket) int {
		return cmp.Compare(a.ID, b.ID)
	})
}

func sortIDs(ids []id.TicketID) {
	slices.Sort(ids)
}
