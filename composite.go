package windshed

import (
	"fmt"
	"sync"
)

// A Composite counts, for each cell, how many viewsheds it is visible in.
// It is safe for concurrent use.
type Composite struct {
	visible float32

	mutex sync.Mutex
	count *Grid
	n     int
}

// NewComposite returns a new Composite for viewsheds that mark visible cells
// with visible.
func NewComposite(visible float64) *Composite {
	return &Composite{
		visible: float32(visible),
	}
}

// Add adds viewshed to c.
func (c *Composite) Add(viewshed *Grid) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.count == nil {
		c.count = Like(viewshed)
		c.count.Fill(0)
	} else if !c.count.SameGeometry(viewshed) {
		return fmt.Errorf("%dx%d %v: %w", viewshed.Width, viewshed.Height, viewshed.Transform, ErrGeometryMismatch)
	}
	for i, v := range viewshed.Data {
		if v == c.visible {
			c.count.Data[i]++
		}
	}
	c.n++
	return nil
}

// Len returns the number of viewsheds added.
func (c *Composite) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.n
}

// Count returns the number of viewsheds each cell is visible in, or nil if
// no viewsheds have been added.
func (c *Composite) Count() *Grid {
	return c.derive(func(count float32, _ int) float32 {
		return count
	})
}

// Fraction returns the fraction of viewsheds each cell is visible in.
func (c *Composite) Fraction() *Grid {
	return c.derive(func(count float32, n int) float32 {
		return count / float32(n)
	})
}

// Any returns 1 for cells visible in any viewshed and 0 otherwise.
func (c *Composite) Any() *Grid {
	return c.derive(func(count float32, _ int) float32 {
		if count > 0 {
			return 1
		}
		return 0
	})
}

func (c *Composite) derive(f func(float32, int) float32) *Grid {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.count == nil {
		return nil
	}
	result := Like(c.count)
	for i, count := range c.count.Data {
		result.Data[i] = f(count, c.n)
	}
	return result
}
