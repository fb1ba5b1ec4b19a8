package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/iudanet/fieldsync/internal/models"
)

// RunAddReport создаёт донесение из флагов команды
func (c *Cli) RunAddReport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add-report", flag.ContinueOnError)
	reporter := fs.String("reporter", "", "reporter identifier")
	region := fs.String("region", "", "region identifier")
	language := fs.String("language", "en", "report language code")
	symptoms := fs.String("symptoms", "", "comma-separated symptom list")
	patients := fs.Int("patients", 0, "number of affected patients")
	water := fs.Bool("water", false, "contaminated water observed")
	lat := fs.Float64("lat", 0, "GPS latitude")
	lon := fs.Float64("lon", 0, "GPS longitude")
	voice := fs.String("voice", "", "voice note object key")
	var photos stringList
	fs.Var(&photos, "photo", "photo object key (repeatable)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *reporter == "" || *region == "" {
		return fmt.Errorf("-reporter and -region are required")
	}

	report := models.Report{
		ReporterID:    *reporter,
		RegionID:      *region,
		Language:      *language,
		VoiceNote:     *voice,
		Symptoms:      splitList(*symptoms),
		Photos:        photos,
		GPSLatitude:   *lat,
		GPSLongitude:  *lon,
		PatientCount:  *patients,
		WaterObserved: *water,
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	entity, err := c.dataService.Create(ctx, models.EntityReports, payload)
	if err != nil {
		return err
	}

	fmt.Printf("Report created: %s\n", entity.LocalID)
	return nil
}

// RunAddReading создаёт показание датчика из флагов команды
func (c *Cli) RunAddReading(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("add-reading", flag.ContinueOnError)
	sensor := fs.String("sensor", "", "sensor identifier")
	lat := fs.Float64("lat", 0, "sensor latitude")
	lon := fs.Float64("lon", 0, "sensor longitude")
	turbidity := fs.Float64("turbidity", 0, "turbidity (NTU)")
	ph := fs.Float64("ph", 7.0, "pH level")
	conductivity := fs.Float64("conductivity", 0, "electrical conductivity (uS/cm)")
	coliform := fs.Float64("coliform", 0, "coliform level (CFU/100ml)")
	battery := fs.Float64("battery", 100, "battery level percent")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *sensor == "" {
		return fmt.Errorf("-sensor is required")
	}

	reading := models.SensorReading{
		Timestamp:    time.Now().UTC(),
		SensorID:     *sensor,
		Latitude:     *lat,
		Longitude:    *lon,
		Turbidity:    *turbidity,
		PH:           *ph,
		Conductivity: *conductivity,
		Coliform:     *coliform,
		BatteryLevel: *battery,
	}

	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}

	entity, err := c.dataService.Create(ctx, models.EntitySensorReadings, payload)
	if err != nil {
		return err
	}

	fmt.Printf("Sensor reading created: %s\n", entity.LocalID)
	return nil
}

// stringList повторяемый строковый флаг
type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// splitList разбирает список через запятую, отбрасывая пустые элементы
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
