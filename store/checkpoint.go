package store

// Checkpoint saves long batches every n items so a crash loses at most one
// interval of work.
type Checkpoint struct {
	every   int
	pending int
	save    func() error
}

func NewCheckpoint(every int, save func() error) *Checkpoint {
	if every <= 0 {
		every = 1
	}
	return &Checkpoint{every: every, save: save}
}

// Tick records one processed item and saves when the interval is reached.
func (c *Checkpoint) Tick() error {
	c.pending++
	if c.pending < c.every {
		return nil
	}
	return c.Flush()
}

// Flush saves any unsaved progress.
func (c *Checkpoint) Flush() error {
	if c.pending == 0 {
		return nil
	}
	if err := c.save(); err != nil {
		return err
	}
	c.pending = 0
	return nil
}
