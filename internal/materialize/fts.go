package materialize

import (
	"encoding/json"

	"github.com/NicabarNimble/patina/internal/eventlog"
	"github.com/NicabarNimble/patina/internal/fts"
)

// materializeFTS folds code.function events into the full-text index.
// The index watermark lives alongside the SQL views so staleness is
// tracked uniformly; index writes are not transactional with the SQL
// batch, which is acceptable because a force rebuild restores parity.
func (m *Materializer) materializeFTS(force bool) (ViewStats, error) {
	var vs ViewStats
	if m.fts == nil {
		return vs, nil
	}

	from, err := m.viewWatermark("code_fts")
	if err != nil {
		return vs, err
	}
	if force {
		if err := m.fts.Reset(); err != nil {
			return vs, err
		}
		from = 0
	}
	vs.From = from

	head, err := m.store.LastSeq()
	if err != nil {
		return vs, err
	}
	events, err := m.store.ReadFrom(from, eventlog.KindCodeFunction)
	if err != nil {
		return vs, err
	}

	to := from
	for _, ev := range events {
		if ev.Seq > head {
			break
		}
		var p eventlog.FunctionPayload
		if err := json.Unmarshal(ev.Data, &p); err != nil || p.Qualified == "" {
			vs.Errors++
			m.log.Warn().Uint64("seq", ev.Seq).Str("view", "code_fts").Msg("skipping malformed event")
			to = ev.Seq
			continue
		}
		doc := fts.SymbolDoc{
			DocID:    p.Qualified,
			Name:     p.Name,
			File:     p.File,
			Context:  p.Context,
			Language: p.Language,
		}
		if err := m.fts.Add(doc); err != nil {
			vs.Errors++
			m.log.Warn().Uint64("seq", ev.Seq).Err(err).Msg("fts index failed")
		} else {
			vs.Applied++
		}
		to = ev.Seq
	}
	if head > to {
		to = head
	}

	tx, err := m.db.Begin()
	if err != nil {
		return vs, err
	}
	defer tx.Rollback()
	if err := setWatermark(tx, "code_fts", to); err != nil {
		return vs, err
	}
	if err := tx.Commit(); err != nil {
		return vs, err
	}
	vs.To = to
	return vs, nil
}
