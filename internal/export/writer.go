package export

import (
	"fmt"
	"os"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/wegman-software/navcompile-go/internal/layer"
	"github.com/wegman-software/navcompile-go/internal/wkb"
)

// GeomColumn is the name of the EWKB geometry column
const GeomColumn = "geom_wkb"

// Schema returns the Arrow schema of a layer
func Schema(l layer.Layer) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(l.Columns)+1)
	for _, c := range l.Columns {
		var typ arrow.DataType
		switch c.Type {
		case layer.Int64:
			typ = arrow.PrimitiveTypes.Int64
		case layer.Float64:
			typ = arrow.PrimitiveTypes.Float64
		default:
			typ = arrow.BinaryTypes.String
		}
		fields = append(fields, arrow.Field{Name: c.Name, Type: typ, Nullable: true})
	}
	if l.Geometry != layer.GeomNone {
		fields = append(fields, arrow.Field{Name: GeomColumn, Type: arrow.BinaryTypes.Binary, Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

// LayerWriter writes the rows of one layer to a Parquet file
type LayerWriter struct {
	layer     layer.Layer
	enc       *wkb.Encoder
	file      *os.File
	writer    *pqarrow.FileWriter
	builder   *array.RecordBuilder
	batchSize int
	count     int
	written   int64
}

// NewLayerWriter creates a Parquet writer for l at path
func NewLayerWriter(path string, l layer.Layer, enc *wkb.Encoder, batchSize int) (*LayerWriter, error) {
	if batchSize <= 0 {
		batchSize = 10000
	}
	schema := Schema(l)

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(false),
	)

	writer, err := pqarrow.NewFileWriter(schema, f, writerProps, pqarrow.DefaultWriterProps())
	if err != nil {
		f.Close()
		return nil, err
	}

	builder := array.NewRecordBuilder(memory.DefaultAllocator, schema)

	return &LayerWriter{
		layer:     l,
		enc:       enc,
		file:      f,
		writer:    writer,
		builder:   builder,
		batchSize: batchSize,
	}, nil
}

// Write appends one row
func (w *LayerWriter) Write(row layer.Row) error {
	if len(row.Values) != len(w.layer.Columns) {
		return fmt.Errorf("%s row has %d values, want %d", w.layer.Name, len(row.Values), len(w.layer.Columns))
	}
	for i, v := range row.Values {
		switch b := w.builder.Field(i).(type) {
		case *array.Int64Builder:
			if n, ok := v.(int64); ok {
				b.Append(n)
			} else {
				b.AppendNull()
			}
		case *array.Float64Builder:
			if f, ok := v.(float64); ok {
				b.Append(f)
			} else {
				b.AppendNull()
			}
		case *array.StringBuilder:
			if s, ok := v.(string); ok {
				b.Append(s)
			} else {
				b.AppendNull()
			}
		}
	}
	if w.layer.Geometry != layer.GeomNone {
		b := w.builder.Field(len(row.Values)).(*array.BinaryBuilder)
		if g := row.EWKB(w.enc, w.layer.Geometry); g != nil {
			b.Append(g)
		} else {
			b.AppendNull()
		}
	}

	w.count++
	w.written++
	if w.count >= w.batchSize {
		return w.flush()
	}
	return nil
}

// Written returns the number of rows written
func (w *LayerWriter) Written() int64 { return w.written }

func (w *LayerWriter) flush() error {
	if w.count == 0 {
		return nil
	}
	rec := w.builder.NewRecord()
	defer rec.Release()
	err := w.writer.Write(rec)
	w.count = 0
	return err
}

// Close flushes pending rows and closes the file
func (w *LayerWriter) Close() error {
	defer w.builder.Release()
	if err := w.flush(); err != nil {
		w.writer.Close()
		return err
	}
	// pqarrow closes the underlying file
	return w.writer.Close()
}
