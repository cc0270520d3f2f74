package export

import (
	"encoding/csv"
	"io"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

var header = []string{
	"state", "date", "predicted_consumption", "future_predicted_consumption",
	"temperature", "humidity", "wind_speed", "rainfall",
}

// Write encodes rows to w in format f.
func Write(w io.Writer, f Format, rows []Row) error {
	switch f {
	case FormatXLSX:
		return WriteXLSX(w, rows)
	default:
		return WriteCSV(w, rows)
	}
}

// WriteCSV always writes the header, even for an empty export.
func WriteCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	enc := csvutil.NewEncoder(cw)
	if err := enc.EncodeHeader(Row{}); err != nil {
		return eris.Wrap(err, "csv: encode header")
	}
	if len(rows) > 0 {
		if err := enc.Encode(rows); err != nil {
			return eris.Wrap(err, "csv: encode rows")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "csv: flush")
}

func WriteXLSX(w io.Writer, rows []Row) error {
	file := xlsx.NewFile()
	sheet, err := file.AddSheet("forecasts")
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	hr := sheet.AddRow()
	for _, h := range header {
		hr.AddCell().SetString(h)
	}

	for _, r := range rows {
		xr := sheet.AddRow()
		xr.AddCell().SetString(r.State)
		xr.AddCell().SetString(r.Date)
		for _, v := range []*float64{r.PredictedConsumption, r.FuturePredictedConsumption, r.Temperature, r.Humidity, r.WindSpeed, r.Rainfall} {
			c := xr.AddCell()
			if v != nil {
				c.SetFloat(*v)
			}
		}
	}

	if err := file.Write(w); err != nil {
		return eris.Wrap(err, "xlsx: write")
	}
	return nil
}
