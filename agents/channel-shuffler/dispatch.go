package channelshuffler

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
)

const watchBase = "https://www.youtube.com/"

// Dispatcher hands chosen uploads to whatever plays them.
type Dispatcher interface {
	Dispatch(ctx context.Context, ids []string) error
}

// WatchURL builds a playback URL for the ids. A batch becomes a single
// temporary playlist.
func WatchURL(ids []string) string {
	switch len(ids) {
	case 0:
		return ""
	case 1:
		return watchBase + "watch?v=" + url.QueryEscape(ids[0])
	default:
		escaped := make([]string, len(ids))
		for i, id := range ids {
			escaped[i] = url.QueryEscape(id)
		}
		return watchBase + "watch_videos?video_ids=" + strings.Join(escaped, ",")
	}
}

// URLDispatcher writes the playback URL for each dispatch to Out.
type URLDispatcher struct {
	Out io.Writer
}

func (d URLDispatcher) Dispatch(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := fmt.Fprintln(d.Out, WatchURL(ids))
	return err
}
