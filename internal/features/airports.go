package features

import (
	"bytes"
	_ "embed"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	// 컨테이너 이미지에 zoneinfo 가 없어도 LoadLocation 이 동작하도록 내장
	_ "time/tzdata"
)

//go:embed airports.csv
var airportsCSV []byte

// Airport 는 timezone 조회에 필요한 최소 정보만 가진다.
type Airport struct {
	IATA     string
	ICAO     string
	City     string
	Country  string
	Timezone string
}

// Airports 는 IATA/ICAO 코드 → *time.Location 조회 테이블. 만든 뒤에는 읽기 전용.
type Airports struct {
	byCode map[string]Airport
	locs   map[string]*time.Location // timezone 이름 → Location
}

var (
	defaultOnce     sync.Once
	defaultAirports *Airports
	defaultErr      error
)

// DefaultAirports 는 바이너리에 내장된 airports.csv 로 만든 테이블을 돌려준다.
func DefaultAirports() (*Airports, error) {
	defaultOnce.Do(func() {
		defaultAirports, defaultErr = LoadAirports(bytes.NewReader(airportsCSV))
	})
	return defaultAirports, defaultErr
}

// LoadAirports 는 "iata,icao,city,country,timezone" 헤더를 가진 CSV 를 읽는다.
// 알 수 없는 timezone 이름이 하나라도 있으면 실패한다.
func LoadAirports(r io.Reader) (*Airports, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 5
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("airports: read header: %w", err)
	}
	if strings.ToLower(header[0]) != "iata" || strings.ToLower(header[4]) != "timezone" {
		return nil, fmt.Errorf("airports: unexpected header %v", header)
	}

	a := &Airports{
		byCode: make(map[string]Airport, 128),
		locs:   make(map[string]*time.Location, 64),
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("airports: %w", err)
		}

		ap := Airport{
			IATA:     strings.ToUpper(rec[0]),
			ICAO:     strings.ToUpper(rec[1]),
			City:     rec[2],
			Country:  rec[3],
			Timezone: rec[4],
		}
		if _, ok := a.locs[ap.Timezone]; !ok {
			loc, err := time.LoadLocation(ap.Timezone)
			if err != nil {
				return nil, fmt.Errorf("airports: %s: %w", ap.IATA, err)
			}
			a.locs[ap.Timezone] = loc
		}
		if ap.IATA != "" {
			a.byCode[ap.IATA] = ap
		}
		if ap.ICAO != "" {
			a.byCode[ap.ICAO] = ap
		}
	}
	return a, nil
}

// Lookup: 코드(대소문자 무관)로 공항 정보 조회
func (a *Airports) Lookup(code string) (Airport, bool) {
	if a == nil {
		return Airport{}, false
	}
	ap, ok := a.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return ap, ok
}

// Location: 공항의 IANA timezone. 모르는 공항이면 nil, false.
func (a *Airports) Location(code string) (*time.Location, bool) {
	ap, ok := a.Lookup(code)
	if !ok {
		return nil, false
	}
	return a.locs[ap.Timezone], true
}

func (a *Airports) Len() int {
	if a == nil {
		return 0
	}
	return len(a.byCode)
}
