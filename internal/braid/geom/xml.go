package geom

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// The calibration file format is the flydra multi-camera reconstructor
// XML: a <multi_camera_reconstructor> root holding one
// <single_camera_calibration> per camera, with the 3x4 projection
// matrix written row-major as "r00 r01 r02 r03; r10 ...; r20 ...".

type xmlReconstructor struct {
	XMLName xml.Name           `xml:"multi_camera_reconstructor"`
	Cameras []xmlSingleCamera  `xml:"single_camera_calibration"`
	Water   *float64           `xml:"water,omitempty"`
	Comment string             `xml:"comment,omitempty"`
}

type xmlSingleCamera struct {
	CamID             string       `xml:"cam_id"`
	CalibrationMatrix string       `xml:"calibration_matrix"`
	Resolution        string       `xml:"resolution"`
	ScaleFactor       string       `xml:"scale_factor,omitempty"`
	NonLinear         xmlNonLinear `xml:"non_linear_parameters"`
}

type xmlNonLinear struct {
	Fc1    float64 `xml:"fc1"`
	Fc2    float64 `xml:"fc2"`
	Cc1    float64 `xml:"cc1"`
	Cc2    float64 `xml:"cc2"`
	K1     float64 `xml:"k1"`
	K2     float64 `xml:"k2"`
	P1     float64 `xml:"p1"`
	P2     float64 `xml:"p2"`
	AlphaC float64 `xml:"alpha_c"`
}

func formatMatrix(p *mat.Dense) string {
	rows := make([]string, 3)
	for i := 0; i < 3; i++ {
		cols := make([]string, 4)
		for j := 0; j < 4; j++ {
			cols[j] = strconv.FormatFloat(p.At(i, j), 'g', -1, 64)
		}
		rows[i] = strings.Join(cols, " ")
	}
	return strings.Join(rows, "; ")
}

func parseMatrix(s string) (*mat.Dense, error) {
	rows := strings.Split(s, ";")
	if len(rows) != 3 {
		return nil, fmt.Errorf("geom: calibration matrix has %d rows, want 3", len(rows))
	}
	p := mat.NewDense(3, 4, nil)
	for i, row := range rows {
		cols := strings.Fields(row)
		if len(cols) != 4 {
			return nil, fmt.Errorf("geom: calibration matrix row %d has %d columns, want 4", i, len(cols))
		}
		for j, col := range cols {
			v, err := strconv.ParseFloat(col, 64)
			if err != nil {
				return nil, fmt.Errorf("geom: calibration matrix entry %d,%d: %w", i, j, err)
			}
			p.Set(i, j, v)
		}
	}
	return p, nil
}

func parseResolution(s string) (int, int, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("geom: resolution %q, want \"width height\"", s)
	}
	w, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("geom: resolution width: %w", err)
	}
	h, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("geom: resolution height: %w", err)
	}
	return w, h, nil
}

// ParseFlydraXML reads a flydra calibration and builds the camera
// system. Calibrations declaring water refraction are rejected; this
// tracker models cameras and targets in the same medium.
func ParseFlydraXML(r io.Reader) (*CameraSystem, error) {
	var doc xmlReconstructor
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("geom: parse calibration XML: %w", err)
	}
	if doc.Water != nil {
		return nil, fmt.Errorf("geom: calibration declares water refraction (n=%v), not supported", *doc.Water)
	}
	cams := make([]*Camera, 0, len(doc.Cameras))
	for _, xc := range doc.Cameras {
		if sf := strings.TrimSpace(xc.ScaleFactor); sf != "" {
			v, err := strconv.ParseFloat(sf, 64)
			if err != nil {
				return nil, fmt.Errorf("geom: camera %q scale_factor: %w", xc.CamID, err)
			}
			if v != 1 {
				return nil, fmt.Errorf("geom: camera %q scale_factor %v, only 1.0 supported", xc.CamID, v)
			}
		}
		p, err := parseMatrix(xc.CalibrationMatrix)
		if err != nil {
			return nil, fmt.Errorf("geom: camera %q: %w", xc.CamID, err)
		}
		w, h, err := parseResolution(xc.Resolution)
		if err != nil {
			return nil, fmt.Errorf("geom: camera %q: %w", xc.CamID, err)
		}
		dist := DistortionModel{
			Fc1: xc.NonLinear.Fc1, Fc2: xc.NonLinear.Fc2,
			Cc1: xc.NonLinear.Cc1, Cc2: xc.NonLinear.Cc2,
			K1: xc.NonLinear.K1, K2: xc.NonLinear.K2,
			P1: xc.NonLinear.P1, P2: xc.NonLinear.P2,
			AlphaC: xc.NonLinear.AlphaC,
		}
		cam, err := NewCamera(xc.CamID, p, w, h, dist)
		if err != nil {
			return nil, err
		}
		cams = append(cams, cam)
	}
	return NewCameraSystem(cams)
}

// LoadFlydraXMLFile reads a flydra calibration file from disk.
func LoadFlydraXMLFile(path string) (*CameraSystem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geom: open calibration: %w", err)
	}
	defer f.Close()
	return ParseFlydraXML(f)
}

// FlydraXMLString serializes the camera system in the flydra
// calibration format. The result parses back with ParseFlydraXML and
// with the original flydra tools.
func FlydraXMLString(s *CameraSystem) (string, error) {
	doc := xmlReconstructor{}
	for _, name := range s.names {
		cam := s.cams[name]
		d := cam.Distortion()
		doc.Cameras = append(doc.Cameras, xmlSingleCamera{
			CamID:             cam.Name(),
			CalibrationMatrix: formatMatrix(cam.pm),
			Resolution:        fmt.Sprintf("%d %d", cam.Width(), cam.Height()),
			NonLinear: xmlNonLinear{
				Fc1: d.Fc1, Fc2: d.Fc2,
				Cc1: d.Cc1, Cc2: d.Cc2,
				K1: d.K1, K2: d.K2,
				P1: d.P1, P2: d.P2,
				AlphaC: d.AlphaC,
			},
		})
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("geom: serialize calibration XML: %w", err)
	}
	return xml.Header + string(out) + "\n", nil
}
