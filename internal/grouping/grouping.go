package grouping

import (
	"time"

	"github.com/xenn00/room-sync/internal/entity"
)

// TimeFrame is a run of consecutive events from one sender with no large
// gap inside it.
type TimeFrame []entity.Event

// Collection is a run of time frames with no very large gap inside it. A
// renderer puts a timestamp divider between collections.
type Collection []TimeFrame

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

type Options struct {
	FrameGap      time.Duration
	CollectionGap time.Duration
}

func DefaultOptions() Options {
	return Options{FrameGap: 5 * time.Minute, CollectionGap: time.Hour}
}

// Group splits events, given in server order, into collections and frames.
// Gaps are measured between neighbours in that order; a negative gap from
// clock skew never splits. Desc reverses the output at every level.
func Group(events []entity.Event, dir Direction, opts Options) []Collection {
	if opts.FrameGap <= 0 || opts.CollectionGap <= 0 {
		opts = DefaultOptions()
	}

	collections := make([]Collection, 0)
	var (
		collection Collection
		frame      TimeFrame
	)

	for i, ev := range events {
		if i == 0 {
			frame = TimeFrame{ev}
			continue
		}

		prev := events[i-1]
		gap := ev.Timestamp.Sub(prev.Timestamp)

		switch {
		case gap > opts.CollectionGap:
			collection = append(collection, frame)
			collections = append(collections, collection)
			collection = nil
			frame = TimeFrame{ev}
		case ev.Sender != prev.Sender || gap > opts.FrameGap:
			collection = append(collection, frame)
			frame = TimeFrame{ev}
		default:
			frame = append(frame, ev)
		}
	}
	if len(frame) > 0 {
		collection = append(collection, frame)
		collections = append(collections, collection)
	}

	if dir == Desc {
		reverse(collections)
		for _, c := range collections {
			reverse(c)
			for _, f := range c {
				reverse(f)
			}
		}
	}
	return collections
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
