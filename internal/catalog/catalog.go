// Package catalog persists the sensors the bridge has seen and their
// attach/detach history in SQLite. Point data is never stored.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/cepton-bridge/internal/cepton"
	"github.com/banshee-data/cepton-bridge/internal/monitoring"
	_ "modernc.org/sqlite"
)

var logger = monitoring.Component("catalog")

// QueueSize bounds the number of lifecycle events waiting to be written.
const QueueSize = 256

// Sensor is one catalog row.
type Sensor struct {
	SerialNumber    uint64              `json:"serial_number"`
	ModelName       string              `json:"model_name"`
	Model           cepton.SensorModel  `json:"model"`
	FirmwareVersion string              `json:"firmware_version"`
	LastHandle      cepton.SensorHandle `json:"last_handle"`
	Mocked          bool                `json:"mocked"`
	Attached        bool                `json:"attached"`
	AttachCount     int                 `json:"attach_count"`
	FirstSeen       time.Time           `json:"first_seen"`
	LastSeen        time.Time           `json:"last_seen"`
	LastTemperature float32             `json:"last_temperature"`
	LastHumidity    float32             `json:"last_humidity"`
	ReturnCount     uint8               `json:"return_count"`
}

// Event is one attach or detach record.
type Event struct {
	SerialNumber uint64              `json:"serial_number"`
	Event        string              `json:"event"`
	Handle       cepton.SensorHandle `json:"handle"`
	RecordedAt   time.Time           `json:"recorded_at"`
}

type record struct {
	event string
	info  cepton.SensorInfo
	at    time.Time
}

// Catalog records sensor lifecycle events. It implements the driver's
// EventObserver; writes happen on a background goroutine so callbacks never
// wait on disk.
type Catalog struct {
	db      *sql.DB
	path    string
	metrics *monitoring.Metrics
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan record
	wg     sync.WaitGroup
}

// Open opens (creating if needed) the catalog at path and migrates it to the
// latest schema.
func Open(path string, m *monitoring.Metrics) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	// One connection serializes writers and keeps per-connection pragmas in force.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000; PRAGMA journal_mode = WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure catalog %s: %w", path, err)
	}

	c := &Catalog{
		db:      db,
		path:    path,
		metrics: m,
		now:     time.Now,
		queue:   make(chan record, QueueSize),
	}
	if err := c.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	c.wg.Add(1)
	go c.run()
	logger.Printf("opened %s", path)
	return c, nil
}

// DB exposes the underlying handle for debug tooling.
func (c *Catalog) DB() *sql.DB { return c.db }

// SensorAttached queues an attach record.
func (c *Catalog) SensorAttached(info cepton.SensorInfo) { c.enqueue("attach", info) }

// SensorDetached queues a detach record.
func (c *Catalog) SensorDetached(info cepton.SensorInfo) { c.enqueue("detach", info) }

func (c *Catalog) enqueue(event string, info cepton.SensorInfo) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.queue <- record{event: event, info: info, at: c.now()}:
	default:
		c.metrics.SinkDrop("catalog")
		logger.Warnf("queue full, dropped %s of sensor %d", event, info.SerialNumber)
	}
}

func (c *Catalog) run() {
	defer c.wg.Done()
	for rec := range c.queue {
		if err := c.write(context.Background(), rec); err != nil {
			logger.Warnf("record %s of sensor %d: %v", rec.event, rec.info.SerialNumber, err)
		}
	}
}

const upsertSensor = `
	INSERT INTO sensors (
		serial_number, model_name, model, firmware_version, last_handle, mocked,
		attached, attach_count, first_seen_us, last_seen_us,
		last_temperature, last_humidity, return_count
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(serial_number) DO UPDATE SET
		model_name = excluded.model_name,
		model = excluded.model,
		firmware_version = excluded.firmware_version,
		last_handle = excluded.last_handle,
		mocked = excluded.mocked,
		attached = excluded.attached,
		attach_count = sensors.attach_count + excluded.attach_count,
		last_seen_us = excluded.last_seen_us,
		last_temperature = excluded.last_temperature,
		last_humidity = excluded.last_humidity,
		return_count = excluded.return_count
`

func (c *Catalog) write(ctx context.Context, rec record) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	info := rec.info
	attached, count := 0, 0
	if rec.event == "attach" {
		attached, count = 1, 1
	}
	at := rec.at.UnixMicro()
	if _, err := tx.ExecContext(ctx, upsertSensor,
		int64(info.SerialNumber), info.ModelName, int64(info.Model), info.FirmwareVersion,
		int64(info.Handle), info.Flags.Mocked(), attached, count, at, at,
		info.LastReportedTemperature, info.LastReportedHumidity, int64(info.ReturnCount),
	); err != nil {
		return fmt.Errorf("upsert sensor: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sensor_events (serial_number, event, handle, recorded_us) VALUES (?, ?, ?, ?)`,
		int64(info.SerialNumber), rec.event, int64(info.Handle), at,
	); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return tx.Commit()
}

// List returns every known sensor ordered by serial number.
func (c *Catalog) List(ctx context.Context) ([]Sensor, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT serial_number, model_name, model, firmware_version, last_handle, mocked,
		       attached, attach_count, first_seen_us, last_seen_us,
		       last_temperature, last_humidity, return_count
		FROM sensors ORDER BY serial_number`)
	if err != nil {
		return nil, fmt.Errorf("list sensors: %w", err)
	}
	defer rows.Close()

	var out []Sensor
	for rows.Next() {
		var (
			s                      Sensor
			serial, model, handle  int64
			firstUs, lastUs, count int64
			returns                int64
			temp, humidity         float64
		)
		if err := rows.Scan(&serial, &s.ModelName, &model, &s.FirmwareVersion, &handle, &s.Mocked,
			&s.Attached, &count, &firstUs, &lastUs, &temp, &humidity, &returns); err != nil {
			return nil, fmt.Errorf("scan sensor: %w", err)
		}
		s.SerialNumber = uint64(serial)
		s.Model = cepton.SensorModel(model)
		s.LastHandle = cepton.SensorHandle(handle)
		s.AttachCount = int(count)
		s.FirstSeen = time.UnixMicro(firstUs).UTC()
		s.LastSeen = time.UnixMicro(lastUs).UTC()
		s.LastTemperature = float32(temp)
		s.LastHumidity = float32(humidity)
		s.ReturnCount = uint8(returns)
		out = append(out, s)
	}
	return out, rows.Err()
}

// Events returns up to limit of the most recent lifecycle events for serial,
// oldest first. A limit <= 0 returns all of them.
func (c *Catalog) Events(ctx context.Context, serial uint64, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := c.db.QueryContext(ctx, `
		SELECT serial_number, event, handle, recorded_us FROM (
			SELECT * FROM sensor_events WHERE serial_number = ?
			ORDER BY event_id DESC LIMIT ?
		) ORDER BY event_id`, int64(serial), limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e                Event
			sn, handle, atUs int64
		)
		if err := rows.Scan(&sn, &e.Event, &handle, &atUs); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.SerialNumber = uint64(sn)
		e.Handle = cepton.SensorHandle(handle)
		e.RecordedAt = time.UnixMicro(atUs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close stops accepting events, writes the ones already queued and closes
// the database.
func (c *Catalog) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.queue)
	c.mu.Unlock()

	c.wg.Wait()
	return c.db.Close()
}
