package main

import (
	"math"
	"time"
)

// vector3 is an accelerometer reading in m/s².
type vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// angles is an orientation or rotation rate reading in degrees.
type angles struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`
}

// reading matches what the browser sensor page sends.
type reading struct {
	Orientation   angles  `json:"orientation"`
	Accelerometer vector3 `json:"accelerometer"`
	Gyroscope     angles  `json:"gyroscope"`
	Timestamp     int64   `json:"timestamp"`
}

// motion produces a smooth synthetic tilt pattern: a slow spin around the
// vertical axis with the phone rocking forward and sideways.
type motion struct {
	start time.Time
	tilt  float64
}

func newMotion(start time.Time) *motion {
	return &motion{start: start, tilt: 30}
}

func (m *motion) at(now time.Time) reading {
	s := now.Sub(m.start).Seconds()

	beta := m.tilt * math.Sin(s)
	gamma := m.tilt * math.Sin(0.7*s)

	return reading{
		Orientation: angles{
			Alpha: math.Mod(20*s, 360),
			Beta:  beta,
			Gamma: gamma,
		},
		Accelerometer: vector3{
			X: 9.81 * math.Sin(gamma*math.Pi/180),
			Y: 9.81 * math.Sin(beta*math.Pi/180),
			Z: 9.81 * math.Cos(beta*math.Pi/180) * math.Cos(gamma*math.Pi/180),
		},
		Gyroscope: angles{
			Alpha: 20,
			Beta:  m.tilt * math.Cos(s),
			Gamma: 0.7 * m.tilt * math.Cos(0.7*s),
		},
		Timestamp: now.UnixMilli(),
	}
}
