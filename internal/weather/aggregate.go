package weather

import "time"

// Summary aggregates a city's observations over a period.
type Summary struct {
	City          string    `json:"city"`
	From          time.Time `json:"from"`
	To            time.Time `json:"to"`
	Count         int       `json:"count"`
	TempMin       *float64  `json:"tempMinC,omitempty"`
	TempMax       *float64  `json:"tempMaxC,omitempty"`
	TempMean      *float64  `json:"tempMeanC,omitempty"`
	PrecipTotal   *float64  `json:"precipTotalMm,omitempty"`
	WindSpeedMax  *float64  `json:"windSpeedMax,omitempty"`
	PressureMean  *float64  `json:"pressureMeanHpa,omitempty"`
	HumidityMean  *float64  `json:"humidityMeanPct,omitempty"`
	FirstObserved time.Time `json:"firstObserved,omitempty"`
	LastObserved  time.Time `json:"lastObserved,omitempty"`
}

// AggregateObservations summarises observations for one city.
// Means skip observations that lack the field; extremes prefer the dedicated
// min/max fields and fall back to the average temperature.
func AggregateObservations(city string, from, to time.Time, obs []Observation) Summary {
	sum := Summary{City: city, From: from, To: to, Count: len(obs)}
	if len(obs) == 0 {
		return sum
	}

	var (
		temp, pressure, humidity meanAcc
		precip                   float64
		precipSeen               bool
	)

	for _, o := range obs {
		if sum.FirstObserved.IsZero() || o.Timestamp.Before(sum.FirstObserved) {
			sum.FirstObserved = o.Timestamp
		}
		if o.Timestamp.After(sum.LastObserved) {
			sum.LastObserved = o.Timestamp
		}

		if v, ok := o.Float(FieldTempAvg); ok {
			temp.add(v)
		}
		if v, ok := o.Float(FieldPressure); ok {
			pressure.add(v)
		}
		if v, ok := o.Float(FieldHumidity); ok {
			humidity.add(v)
		}
		if v, ok := o.Float(FieldPrecipitation); ok {
			precip += v
			precipSeen = true
		}

		low, ok := o.Float(FieldTempMin)
		if !ok {
			low, ok = o.Float(FieldTempAvg)
		}
		if ok {
			sum.TempMin = minPtr(sum.TempMin, low)
		}
		high, ok := o.Float(FieldTempMax)
		if !ok {
			high, ok = o.Float(FieldTempAvg)
		}
		if ok {
			sum.TempMax = maxPtr(sum.TempMax, high)
		}
		if v, ok := o.Float(FieldWindSpeed); ok {
			sum.WindSpeedMax = maxPtr(sum.WindSpeedMax, v)
		}
	}

	sum.TempMean = temp.mean()
	sum.PressureMean = pressure.mean()
	sum.HumidityMean = humidity.mean()
	if precipSeen {
		sum.PrecipTotal = &precip
	}
	return sum
}

type meanAcc struct {
	total float64
	n     int
}

func (m *meanAcc) add(v float64) {
	m.total += v
	m.n++
}

func (m meanAcc) mean() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.total / float64(m.n)
	return &v
}

func minPtr(cur *float64, v float64) *float64 {
	if cur == nil || v < *cur {
		return &v
	}
	return cur
}

func maxPtr(cur *float64, v float64) *float64 {
	if cur == nil || v > *cur {
		return &v
	}
	return cur
}
