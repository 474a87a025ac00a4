package transform

// ColumnType is the storage type of a clean column.
type ColumnType int

const (
	TypeInteger ColumnType = iota
	TypeReal
	TypeText
	TypeBool
)

// SQLType returns the SQLite column affinity for the type. Booleans are
// stored as 0/1 integers.
func (t ColumnType) SQLType() string {
	switch t {
	case TypeReal:
		return "REAL"
	case TypeText:
		return "TEXT"
	default:
		return "INTEGER"
	}
}

// DeriveFunc computes a derived column from already-parsed source fields.
// The get callback looks up a parsed column of the same record by name.
type DeriveFunc func(get func(name string) Value) Value

// Column describes one output column of a dataset schema.
type Column struct {
	// Name is the clean column name.
	Name string
	// Source is the raw CSV header the column parses from; empty for
	// derived columns.
	Source string
	// Type is the storage type.
	Type ColumnType
	// Parse coerces the raw field. Nil for derived columns.
	Parse FieldParser
	// Derive computes the value from other parsed columns. Nil for
	// source-backed columns.
	Derive DeriveFunc
	// Critical marks columns whose null rate is checked after a merge.
	Critical bool
}

// Schema is the ordered clean-column layout of one dataset.
type Schema struct {
	Dataset string
	Columns []Column
}

// Column returns the schema column with the given name.
func (s Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// CriticalColumns returns the names of columns marked critical.
func (s Schema) CriticalColumns() []string {
	var names []string
	for _, c := range s.Columns {
		if c.Critical {
			names = append(names, c.Name)
		}
	}
	return names
}

// retired (R), withdrew (W) and failed-to-qualify (F) are the non-finish
// classifications; disqualified (D) and excluded (E) are stewards' penalties.
var (
	parseDNF          = FlagSet("R", "W", "F")
	parseDisqualified = FlagSet("D", "E")
)

func deriveRaceSeconds(get func(string) Value) Value {
	ms, ok := get("milliseconds").Int()
	if !ok {
		return Missing()
	}
	return FloatVal(float64(ms) / 1000.0)
}

// position_delta is grid minus finishing position: positive means places
// gained. A grid of zero is a pit-lane start, which has no meaningful delta.
func derivePositionDelta(get func(string) Value) Value {
	grid, ok := get("grid").Int()
	if !ok || grid == 0 {
		return Missing()
	}
	pos, ok := get("position").Int()
	if !ok {
		return Missing()
	}
	return IntVal(grid - pos)
}

func resultColumns(includeFastestSpeed bool) []Column {
	cols := []Column{
		{Name: "result_id", Source: "resultId", Type: TypeInteger, Parse: ParseInt, Critical: true},
		{Name: "race_id", Source: "raceId", Type: TypeInteger, Parse: ParseInt, Critical: true},
		{Name: "driver_id", Source: "driverId", Type: TypeInteger, Parse: ParseInt, Critical: true},
		{Name: "constructor_id", Source: "constructorId", Type: TypeInteger, Parse: ParseInt, Critical: true},
		{Name: "number", Source: "number", Type: TypeInteger, Parse: ParseInt},
		{Name: "grid", Source: "grid", Type: TypeInteger, Parse: ParseInt},
		{Name: "position", Source: "positionText", Type: TypeInteger, Parse: ParsePositionText},
		{Name: "position_order", Source: "positionOrder", Type: TypeInteger, Parse: ParseInt},
		{Name: "points", Source: "points", Type: TypeReal, Parse: ParseFloat, Critical: true},
		{Name: "laps", Source: "laps", Type: TypeInteger, Parse: ParseInt},
		{Name: "milliseconds", Source: "milliseconds", Type: TypeInteger, Parse: ParseInt},
		{Name: "fastest_lap", Source: "fastestLap", Type: TypeInteger, Parse: ParseInt},
		{Name: "fastest_lap_time_seconds", Source: "fastestLapTime", Type: TypeReal, Parse: ParseRaceTime},
	}
	if includeFastestSpeed {
		cols = append(cols,
			Column{Name: "rank", Source: "rank", Type: TypeInteger, Parse: ParseInt},
			Column{Name: "fastest_lap_speed", Source: "fastestLapSpeed", Type: TypeReal, Parse: ParseFloat},
		)
	}
	cols = append(cols,
		Column{Name: "status_id", Source: "statusId", Type: TypeInteger, Parse: ParseInt},
		Column{Name: "did_not_finish", Source: "positionText", Type: TypeBool, Parse: parseDNF},
		Column{Name: "disqualified", Source: "positionText", Type: TypeBool, Parse: parseDisqualified},
		Column{Name: "race_time_seconds", Type: TypeReal, Derive: deriveRaceSeconds},
		Column{Name: "position_delta", Type: TypeInteger, Derive: derivePositionDelta},
	)
	return cols
}

var schemas = map[string]Schema{
	"results": {
		Dataset: "results",
		Columns: resultColumns(true),
	},
	"sprint_results": {
		Dataset: "sprint_results",
		Columns: resultColumns(false),
	},
	"qualifying": {
		Dataset: "qualifying",
		Columns: []Column{
			{Name: "qualify_id", Source: "qualifyId", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "race_id", Source: "raceId", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "driver_id", Source: "driverId", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "constructor_id", Source: "constructorId", Type: TypeInteger, Parse: ParseInt},
			{Name: "number", Source: "number", Type: TypeInteger, Parse: ParseInt},
			{Name: "position", Source: "position", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "q1_seconds", Source: "q1", Type: TypeReal, Parse: ParseRaceTime},
			{Name: "q2_seconds", Source: "q2", Type: TypeReal, Parse: ParseRaceTime},
			{Name: "q3_seconds", Source: "q3", Type: TypeReal, Parse: ParseRaceTime},
		},
	},
	"lap_times": {
		Dataset: "lap_times",
		Columns: []Column{
			{Name: "race_id", Source: "raceId", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "driver_id", Source: "driverId", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "lap", Source: "lap", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "position", Source: "position", Type: TypeInteger, Parse: ParseInt},
			{Name: "time_seconds", Source: "time", Type: TypeReal, Parse: ParseRaceTime, Critical: true},
			{Name: "milliseconds", Source: "milliseconds", Type: TypeInteger, Parse: ParseInt},
		},
	},
	"pit_stops": {
		Dataset: "pit_stops",
		Columns: []Column{
			{Name: "race_id", Source: "raceId", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "driver_id", Source: "driverId", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "stop", Source: "stop", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "lap", Source: "lap", Type: TypeInteger, Parse: ParseInt},
			{Name: "time_of_day", Source: "time", Type: TypeText, Parse: ParseString},
			{Name: "duration_seconds", Source: "duration", Type: TypeReal, Parse: ParseRaceTime, Critical: true},
			{Name: "milliseconds", Source: "milliseconds", Type: TypeInteger, Parse: ParseInt},
		},
	},
	"driver_standings": {
		Dataset: "driver_standings",
		Columns: []Column{
			{Name: "driver_standings_id", Source: "driverStandingsId", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "race_id", Source: "raceId", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "driver_id", Source: "driverId", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "points", Source: "points", Type: TypeReal, Parse: ParseFloat, Critical: true},
			{Name: "position", Source: "positionText", Type: TypeInteger, Parse: ParsePositionText},
			{Name: "wins", Source: "wins", Type: TypeInteger, Parse: ParseInt},
		},
	},
	"constructor_standings": {
		Dataset: "constructor_standings",
		Columns: []Column{
			{Name: "constructor_standings_id", Source: "constructorStandingsId", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "race_id", Source: "raceId", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "constructor_id", Source: "constructorId", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "points", Source: "points", Type: TypeReal, Parse: ParseFloat, Critical: true},
			{Name: "position", Source: "positionText", Type: TypeInteger, Parse: ParsePositionText},
			{Name: "wins", Source: "wins", Type: TypeInteger, Parse: ParseInt},
		},
	},
	"constructor_results": {
		Dataset: "constructor_results",
		Columns: []Column{
			{Name: "constructor_results_id", Source: "constructorResultsId", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "race_id", Source: "raceId", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "constructor_id", Source: "constructorId", Type: TypeInteger, Parse: ParseInt, Critical: true},
			{Name: "points", Source: "points", Type: TypeReal, Parse: ParseFloat, Critical: true},
			{Name: "status", Source: "status", Type: TypeText, Parse: ParseString},
		},
	},
}

// SchemaFor returns the clean schema for a dataset.
func SchemaFor(dataset string) (Schema, bool) {
	s, ok := schemas[dataset]
	return s, ok
}

// Datasets returns the names of all registered dataset schemas.
func Datasets() []string {
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	return names
}
