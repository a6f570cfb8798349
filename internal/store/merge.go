package store

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/wegman-software/navcompile-go/internal/logger"
)

// CoordEpsilon is the coordinate tolerance in degrees for VOR/TACAN merging
const CoordEpsilon = 1e-6

type mergePair struct {
	vorID, tacanID int64
	ident, region  string
}

// MergeVortac combines every VOR or VORDME with a TACAN of identical ident
// and coordinates into a new VORTAC row. Both source rows are marked
// superseded and the merge is logged. Rows already superseded are not
// considered again, so a second call merges nothing.
func (s *Store) MergeVortac(ctx context.Context) (int, error) {
	merged := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		pairs, err := findMergePairs(ctx, tx)
		if err != nil {
			return err
		}
		for _, p := range pairs {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO navaid (ident, region, type, name, frequency_khz, range_nm, mag_var, elevation_ft,
					airport_ident, lat, lon, format, src_file, src_line, src_offset)
				SELECT v.ident, v.region, 'VORTAC', v.name, v.frequency_khz, max(v.range_nm, t.range_nm), v.mag_var,
					v.elevation_ft, v.airport_ident, v.lat, v.lon, v.format, v.src_file, v.src_line, v.src_offset
				FROM navaid v, navaid t WHERE v.id = ? AND t.id = ?`, p.vorID, p.tacanID)
			if err != nil {
				return fmt.Errorf("insert vortac %s: %w", p.ident, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				"UPDATE navaid SET superseded_by = ? WHERE id IN (?, ?)", id, p.vorID, p.tacanID); err != nil {
				return fmt.Errorf("supersede %s: %w", p.ident, err)
			}
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO merge_log (vortac_id, vor_id, tacan_id, ident, region) VALUES (?, ?, ?, ?, ?)",
				id, p.vorID, p.tacanID, p.ident, p.region); err != nil {
				return fmt.Errorf("log merge %s: %w", p.ident, err)
			}
			merged++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	logger.Get().Debug("VOR/TACAN merge", zap.Int("merged", merged))
	return merged, nil
}

// findMergePairs reads all candidate pairs before any write; each VOR and
// each TACAN takes part in at most one merge.
func findMergePairs(ctx context.Context, tx *sql.Tx) ([]mergePair, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT v.id, t.id, v.ident, COALESCE(v.region, '')
		FROM navaid v JOIN navaid t ON t.ident = v.ident
			AND COALESCE(t.region, '') = COALESCE(v.region, '')
			AND t.type = 'TACAN'
			AND abs(t.lat - v.lat) <= ? AND abs(t.lon - v.lon) <= ?
		WHERE v.type IN ('VOR', 'VORDME')
			AND v.superseded_by IS NULL AND t.superseded_by IS NULL
		ORDER BY v.id, t.id`, CoordEpsilon, CoordEpsilon)
	if err != nil {
		return nil, fmt.Errorf("failed to query merge candidates: %w", err)
	}
	defer rows.Close()

	usedVOR := make(map[int64]bool)
	usedTACAN := make(map[int64]bool)
	var pairs []mergePair
	for rows.Next() {
		var p mergePair
		if err := rows.Scan(&p.vorID, &p.tacanID, &p.ident, &p.region); err != nil {
			return nil, err
		}
		if usedVOR[p.vorID] || usedTACAN[p.tacanID] {
			continue
		}
		usedVOR[p.vorID] = true
		usedTACAN[p.tacanID] = true
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// PurgeSuperseded deletes navaid rows replaced by a merge. References held
// by procedure fixes move to the merged row first.
func (s *Store) PurgeSuperseded(ctx context.Context) (int64, error) {
	var purged int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE procedure_fix SET navaid_id = (SELECT superseded_by FROM navaid WHERE navaid.id = procedure_fix.navaid_id)
			WHERE navaid_id IN (SELECT id FROM navaid WHERE superseded_by IS NOT NULL)`); err != nil {
			return fmt.Errorf("relink procedure fixes: %w", err)
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM navaid WHERE superseded_by IS NOT NULL")
		if err != nil {
			return fmt.Errorf("purge superseded navaids: %w", err)
		}
		purged, err = res.RowsAffected()
		return err
	})
	return purged, err
}
