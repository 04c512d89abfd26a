package indexer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"
)

const exportBatchSize = 500

type parquetRow struct {
	Digest     string `parquet:"name=digest, type=BYTE_ARRAY, convertedtype=UTF8"`
	Signer     string `parquet:"name=signer, type=BYTE_ARRAY, convertedtype=UTF8"`
	Relayer    string `parquet:"name=relayer, type=BYTE_ARRAY, convertedtype=UTF8"`
	Forwarder  string `parquet:"name=forwarder, type=BYTE_ARRAY, convertedtype=UTF8"`
	Callee     string `parquet:"name=callee, type=BYTE_ARRAY, convertedtype=UTF8"`
	Selector   string `parquet:"name=selector, type=BYTE_ARRAY, convertedtype=UTF8"`
	Nonce      string `parquet:"name=nonce, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value      string `parquet:"name=value, type=BYTE_ARRAY, convertedtype=UTF8"`
	GasLimit   int64  `parquet:"name=gas_limit, type=INT64"`
	Expiration int64  `parquet:"name=expiration, type=INT64"`
	Envelope   string `parquet:"name=envelope, type=BYTE_ARRAY, convertedtype=UTF8"`
	RecordedAt string `parquet:"name=recorded_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes every recorded envelope, oldest first, to a
// Snappy-compressed Parquet file at path and returns the row count.
func (ix *Indexer) ExportParquet(ctx context.Context, path string) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("indexer: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	written := 0
	var batch []ExecutedEnvelope
	result := ix.db.WithContext(ctx).Order("id ASC").FindInBatches(&batch, exportBatchSize, func(_ *gorm.DB, _ int) error {
		for i := range batch {
			row := &batch[i]
			if err := pw.Write(&parquetRow{
				Digest:     row.Digest,
				Signer:     row.Signer,
				Relayer:    row.Relayer,
				Forwarder:  row.Forwarder,
				Callee:     row.Callee,
				Selector:   row.Selector,
				Nonce:      row.Nonce,
				Value:      row.Value,
				GasLimit:   int64(row.GasLimit),
				Expiration: int64(row.Expiration),
				Envelope:   row.Envelope,
				RecordedAt: row.RecordedAt.UTC().Format(time.RFC3339Nano),
			}); err != nil {
				return fmt.Errorf("indexer: parquet write: %w", err)
			}
			written++
		}
		return nil
	})
	if result.Error != nil {
		pw.WriteStop()
		file.Close()
		return 0, result.Error
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return 0, fmt.Errorf("indexer: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("indexer: close parquet file: %w", err)
	}
	return written, nil
}
