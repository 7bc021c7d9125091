// Command local-test runs the formatter over a JSON file and prints the
// resulting telemetry batch, without Kafka.
package main

import (
	"flag"
	"io"
	"os"

	"go.uber.org/zap"

	"modbus-formatter/internal/formatter"
	"modbus-formatter/internal/model"
)

func main() {
	in := flag.String("in", "-", "input file with register records, - for stdin")
	layoutFlag := flag.String("layout", "unpadded", "register layout: unpadded or padded")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()
	sugar := logger.Sugar()

	layout, err := formatter.ParseLayout(*layoutFlag)
	if err != nil {
		sugar.Fatalw("bad layout", "error", err)
	}

	var r io.Reader = os.Stdin
	if *in != "-" {
		f, err := os.Open(*in)
		if err != nil {
			sugar.Fatalw("failed to open input", "file", *in, "error", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(r)
	if err != nil {
		sugar.Fatalw("failed to read input", "error", err)
	}

	records, err := model.DecodeRecords(data)
	if err != nil {
		sugar.Fatalw("failed to decode records", "error", err)
	}

	batch, err := formatter.NewAggregator(layout).Aggregate(records)
	if err != nil {
		sugar.Fatalw("failed to format batch", "error", err)
	}

	out, err := model.EncodeBatch(batch)
	if err != nil {
		sugar.Fatalw("failed to encode batch", "error", err)
	}

	sugar.Infow("batch formatted", "records", len(records), "devices", len(batch.DeviceData), "layout", layout.String())
	os.Stdout.Write(append(out, '\n'))
}
