package admission

// Reset releases every slot and zeroes counters. Test builds only.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sem.Release(int64(len(c.slots)))
	c.slots = make(map[string]Slot, c.max)
	c.active.Store(0)
	c.peak.Store(0)
	c.totalHandled.Store(0)
	c.rejected.Store(0)
	c.released.Store(0)
	c.totalDuration.Store(0)
}
