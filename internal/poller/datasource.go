package poller

import "fmt"

// SourceKind tells a renderer which branch to take. There is no fallback to
// placeholder rows.
type SourceKind int

const (
	SourceEmpty SourceKind = iota
	SourceLive
	SourceUnavailable
)

func (k SourceKind) String() string {
	switch k {
	case SourceLive:
		return "live"
	case SourceUnavailable:
		return "unavailable"
	}
	return "empty"
}

// DataSource is the render-ready view of a list resource.
type DataSource[T any] struct {
	Kind  SourceKind
	Rows  []T
	Total int64
	Err   error
}

func Live[T any](rows []T, total int64) DataSource[T] {
	return DataSource[T]{Kind: SourceLive, Rows: rows, Total: total}
}

func Empty[T any]() DataSource[T] {
	return DataSource[T]{Kind: SourceEmpty}
}

func Unavailable[T any](err error) DataSource[T] {
	return DataSource[T]{Kind: SourceUnavailable, Err: err}
}

// SourceOf classifies a snapshot. A recorded error wins over a stale value so
// failures stay visible.
func SourceOf[T any](snap Snapshot, rowsOf func(any) ([]T, int64)) DataSource[T] {
	if snap.Err != nil {
		return Unavailable[T](snap.Err)
	}
	if snap.Value == nil {
		return Empty[T]()
	}
	rows, total := rowsOf(snap.Value)
	if len(rows) == 0 {
		return Empty[T]()
	}
	return Live(rows, total)
}

func (d DataSource[T]) String() string {
	switch d.Kind {
	case SourceLive:
		return fmt.Sprintf("live(%d of %d)", len(d.Rows), d.Total)
	case SourceUnavailable:
		return fmt.Sprintf("unavailable(%v)", d.Err)
	}
	return "empty"
}
