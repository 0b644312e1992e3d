package buffer

import "github.com/nhle/inbox-sweep/internal/model"

// Item is one entry of the active window: a single message, or a collapsed
// group of same-domain messages represented by the first of them.
type Item struct {
	// Item is the message shown for this entry. For a group it is the
	// first member in queue order.
	Item model.NormalizedItem

	// Count is the number of queued messages this entry stands for.
	// Singletons have a Count of 1.
	Count int

	// IDs lists the member ids in queue order. For a singleton it holds
	// only Item.ID.
	IDs []string
}

// IsGroup reports whether the entry collapses several messages.
func (it Item) IsGroup() bool {
	return it.Count > 1
}

// Domain returns the origin domain shared by every member.
func (it Item) Domain() string {
	return it.Item.FromDomain
}

// groupWindow projects the first windowSize queue entries into window
// items. Members of a domain that occurs at least threshold times inside
// that slice collapse into one entry placed where the domain is first seen.
func groupWindow(queue []model.NormalizedItem, windowSize, threshold int) []Item {
	slice := queue
	if len(slice) > windowSize {
		slice = slice[:windowSize]
	}

	byDomain := make(map[string][]int, len(slice))
	for i, it := range slice {
		byDomain[it.FromDomain] = append(byDomain[it.FromDomain], i)
	}

	out := make([]Item, 0, len(slice))
	processed := make([]bool, len(slice))
	for i, it := range slice {
		if processed[i] {
			continue
		}
		members := byDomain[it.FromDomain]
		if len(members) >= threshold {
			ids := make([]string, 0, len(members))
			for _, j := range members {
				processed[j] = true
				ids = append(ids, slice[j].ID)
			}
			out = append(out, Item{Item: it, Count: len(members), IDs: ids})
			continue
		}
		processed[i] = true
		out = append(out, Item{Item: it, Count: 1, IDs: []string{it.ID}})
	}
	return out
}
