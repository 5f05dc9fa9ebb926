package costing_repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/klauspost/compress/zstd"

	"costledger/internal/core/id"
	"costledger/internal/domain/costing"
	"costledger/internal/infrastructure/storage/postgres"
)

const snapshotsTable = "cost_snapshots"

// CompressionAlgo specifies the compression algorithm used.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// SnapshotWriter persists point-in-time pair state after each committed
// recalculation. Snapshots are an audit trail of replays, not an input to
// the engine: state is always rebuilt from the transaction log. Reading
// them back is an operational concern, done in SQL.
type SnapshotWriter struct {
	txm     *postgres.TxManager
	builder squirrel.StatementBuilderType

	encoder           *zstd.Encoder
	compressThreshold int // bytes
}

// NewSnapshotWriter creates a snapshot writer with zstd compression for
// large states.
func NewSnapshotWriter(txm *postgres.TxManager) (*SnapshotWriter, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	return &SnapshotWriter{
		txm:               txm,
		builder:           squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		encoder:           encoder,
		compressThreshold: 10 * 1024, // 10KB
	}, nil
}

// Write stores one snapshot of the pair's state inside the current
// transaction, so an aborted replay leaves no snapshot behind.
func (w *SnapshotWriter) Write(ctx context.Context, st *costing.State) error {
	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	algo := CompressionNone
	var compressed []byte
	if len(payload) > w.compressThreshold {
		compressed = w.encoder.EncodeAll(payload, nil)
		payload = nil
		algo = CompressionZstd
	}

	q := w.builder.Insert(snapshotsTable).
		Columns(
			"id", "product_id", "warehouse_id",
			"state", "state_compressed", "compression_algo", "created_at",
		).
		Values(
			id.New(), st.ProductID, st.WarehouseID,
			payload, compressed, algo, time.Now().UTC(),
		)

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build snapshot insert: %w", err)
	}
	if _, err := w.txm.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}
