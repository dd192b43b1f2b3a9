package model

import "time"

type Source string

const (
	SourceESIOS   Source = "esios"
	SourceAEMET   Source = "aemet"
	SourceCapital Source = "capital"
)

type Category string

const (
	CategoryPrice      Category = "price"
	CategoryProduction Category = "production"
	CategoryDemand     Category = "demand"
	CategoryCapacity   Category = "capacity"
	CategoryExchange   Category = "exchange"
	CategoryStorage    Category = "storage"
	CategoryEmissions  Category = "emissions"
	CategoryRenewable  Category = "renewable"
	CategoryWeather    Category = "weather"
	CategoryCommodity  Category = "commodity"
	CategoryOther      Category = "other"
)

// Entity is a unit of collection identity: an ESIOS indicator, an AEMET
// station, or a Capital.com EPIC code.
type Entity struct {
	ID        string
	Name      string
	ShortName string
	Source    Source
	Category  Category
	Priority  int // 1 = highest, 5 = lowest
	IsActive  bool
}

// ObservationRow is one timestamped measurement for an entity.
// (EntityID, Timestamp) is the natural key: a later write for an existing
// key overwrites, never duplicates.
type ObservationRow struct {
	EntityID   string
	EntityName string
	Timestamp  time.Time
	Value      *float64
	ValueMin   *float64
	ValueMax   *float64
	GeoID      *int64
	GeoName    string
	Bid        *float64
	Ask        *float64
	IngestedAt time.Time
}

type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// CollectionLog records one (entity, chunk) fetch attempt. Rows are
// append-only; every retry creates a new row.
type CollectionLog struct {
	EntityID      string
	ChunkStart    time.Time
	ChunkEnd      time.Time
	RecordsStored int
	Status        Status
	Error         string
	ExecutionTime time.Duration
	CreatedAt     time.Time
}

// Value returns a pointer for ObservationRow numeric fields.
func Value(v float64) *float64 {
	return &v
}
