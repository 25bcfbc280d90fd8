package provider

import (
	"github.com/brettbedarf/mediafs"
	"github.com/brettbedarf/mediafs/progress"
)

// ThumbnailHandler receives one preview. data is nil when err is set.
type ThumbnailHandler func(id mediafs.Identifier, data []byte, err error)

// FetchThumbnails fetches previews for ids concurrently. Each id counts one unit
// of the returned aggregate and is reported to perItem, failures included. done
// runs after the last unit. Cancelling the aggregate stops the outstanding
// fetches, and neither perItem nor done is called afterwards.
// All callbacks run on the dispatcher.
func (p *Provider) FetchThumbnails(ids []mediafs.Identifier, perItem ThumbnailHandler, done func(error)) *progress.Aggregate {
	agg := progress.NewAggregate(len(ids))
	if len(ids) == 0 {
		p.dispatch(func() { done(nil) })
		return agg
	}

	report := func(id mediafs.Identifier, data []byte, err error) {
		if agg.IsCancelled() {
			return
		}
		if err != nil {
			p.logger.Debug().Err(err).Str("identifier", string(id)).Msg("Thumbnail failed")
		}
		perItem(id, data, err)
		if agg.Complete() {
			p.logger.Debug().Int("count", agg.Total()).Msg("Thumbnails finished")
			done(nil)
		}
	}

	for _, id := range ids {
		path, err := mediafs.Decode(id)
		if err != nil {
			p.dispatch(func() { report(id, nil, err) })
			continue
		}
		r, err := p.remote.FetchPreview(path, func(data []byte, err error) { report(id, data, err) })
		if err != nil {
			p.dispatch(func() { report(id, nil, err) })
			continue
		}
		agg.Add(r)
	}
	return agg
}
