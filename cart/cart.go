package cart

import (
	"slices"
	"sync"
)

// Item is a lecture in the cart. Lectures have no quantity.
type Item struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	Price        int64  `json:"price"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// Cart is the member's local cart contents.
type Cart struct {
	mu    sync.RWMutex
	items []Item
}

func New(items ...Item) *Cart {
	c := &Cart{}
	c.Set(items)
	return c
}

// Items returns a copy of the cart contents in insertion order
func (c *Cart) Items() []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.items)
}

func (c *Cart) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Total is the sum of item prices
func (c *Cart) Total() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var total int64
	for _, item := range c.items {
		total += item.Price
	}
	return total
}

func (c *Cart) Contains(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.indexOf(id) >= 0
}

// Add appends item unless a lecture with the same id is already present
func (c *Cart) Add(item Item) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.indexOf(item.ID) >= 0 {
		return false
	}
	c.items = append(c.items, item)
	return true
}

func (c *Cart) Remove(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.indexOf(id)
	if i < 0 {
		return false
	}
	c.items = slices.Delete(c.items, i, i+1)
	return true
}

func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
}

// Set replaces the contents, dropping duplicate ids
func (c *Cart) Set(items []Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	for _, item := range items {
		if c.indexOf(item.ID) < 0 {
			c.items = append(c.items, item)
		}
	}
}

func (c *Cart) indexOf(id int64) int {
	return slices.IndexFunc(c.items, func(item Item) bool { return item.ID == id })
}
