package core

import (
	"fmt"
	"math"
)

// Point is a position in screen coordinates.
type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

// Add returns p translated by (dx, dy).
func (p Point) Add(dx, dy int) Point {
	return Point{X: p.X + dx, Y: p.Y + dy}
}

// Sub returns the vector from q to p.
func (p Point) Sub(q Point) (dx, dy int) {
	return p.X - q.X, p.Y - q.Y
}

// DistanceTo returns the euclidean distance between p and q.
func (p Point) DistanceTo(q Point) float64 {
	dx, dy := q.Sub(p)
	return math.Hypot(float64(dx), float64(dy))
}

func (p Point) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Bounds represents element position and size
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the center point of the bounds
func (b Bounds) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Contains checks if a point is within the bounds
func (b Bounds) Contains(x, y int) bool {
	return x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height
}

// IsDegenerate reports whether the bounds have no area. Windows that are
// still being created report zero-sized bounds.
func (b Bounds) IsDegenerate() bool {
	return b.Width <= 0 || b.Height <= 0
}

func (b Bounds) String() string {
	return fmt.Sprintf("[%d,%d %dx%d]", b.X, b.Y, b.Width, b.Height)
}

// ElementInfo describes an accessibility element a step interacted with
type ElementInfo struct {
	Name    string `json:"name"`
	Role    string `json:"role,omitempty"`
	Bounds  Bounds `json:"bounds"`
	Visible bool   `json:"visible"`
	Value   string `json:"value,omitempty"`
}

// AppInfo describes the application under test
type AppInfo struct {
	Path      string   `json:"path"`
	Args      []string `json:"args,omitempty"`
	PID       int      `json:"pid,omitempty"`
	Title     string   `json:"title,omitempty"`
	Backend   string   `json:"backend"` // sim, ...
	SessionID string   `json:"sessionId,omitempty"`
}
