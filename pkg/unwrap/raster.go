package unwrap

import (
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/isceproc/isceproc/pkg/engine"
)

// ISCE data types.
const (
	DataTypeByte   = "BYTE"
	DataTypeShort  = "SHORT"
	DataTypeInt    = "INT"
	DataTypeFloat  = "FLOAT"
	DataTypeDouble = "DOUBLE"
	DataTypeCFloat = "CFLOAT"
)

var pixelSizes = map[string]int{
	DataTypeByte:   1,
	DataTypeShort:  2,
	DataTypeInt:    4,
	DataTypeFloat:  4,
	DataTypeDouble: 8,
	DataTypeCFloat: 8,
}

// Raster describes an ISCE binary raster, whose metadata lives in a .xml
// file next to the data.
type Raster struct {
	Path     string
	Width    int
	Length   int
	Bands    int
	DataType string

	// Scheme is the band interleaving: BIP, BIL or BSQ.
	Scheme string
}

type imageFile struct {
	XMLName    xml.Name   `xml:"imageFile"`
	Properties []property `xml:"property"`
}

type property struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

// ReadRaster reads the metadata of the raster at path from path.xml.
func ReadRaster(path string) (*Raster, error) {
	data, err := os.ReadFile(path + ".xml")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, engine.NewPermanentError(fmt.Sprintf("no ISCE metadata found for %s", path), err).
				WithCode(engine.ErrCodeNotFound)
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var doc imageFile
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s.xml: %w", path, err)
	}

	r := &Raster{Path: path, Bands: 1, Scheme: "BIP"}
	for _, p := range doc.Properties {
		switch p.Name {
		case "width":
			r.Width, err = strconv.Atoi(p.Value)
		case "length":
			r.Length, err = strconv.Atoi(p.Value)
		case "number_bands":
			r.Bands, err = strconv.Atoi(p.Value)
		case "data_type":
			r.DataType = p.Value
		case "scheme":
			r.Scheme = p.Value
		}
		if err != nil {
			return nil, fmt.Errorf("invalid %s in %s.xml: %w", p.Name, path, err)
		}
	}

	if r.Width < 1 || r.Length < 1 {
		return nil, engine.NewPermanentError(fmt.Sprintf("%s.xml has no width or length", path), nil).
			WithCode(engine.ErrCodeValidation)
	}
	if _, ok := pixelSizes[r.DataType]; !ok {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("unsupported data type %q in %s.xml", r.DataType, path), nil).
			WithCode(engine.ErrCodeValidation)
	}
	return r, nil
}

// WriteXML writes the metadata file of r.
func (r *Raster) WriteXML() error {
	doc := imageFile{Properties: []property{
		{Name: "width", Value: strconv.Itoa(r.Width)},
		{Name: "length", Value: strconv.Itoa(r.Length)},
		{Name: "number_bands", Value: strconv.Itoa(r.Bands)},
		{Name: "data_type", Value: r.DataType},
		{Name: "scheme", Value: r.Scheme},
		{Name: "byte_order", Value: "l"},
		{Name: "access_mode", Value: "read"},
		{Name: "file_name", Value: filepath.Base(r.Path)},
	}}

	data, err := xml.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(r.Path+".xml", data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// PixelSize returns the size of one pixel of one band in bytes.
func (r *Raster) PixelSize() int {
	return pixelSizes[r.DataType]
}

// isZero reports whether the little-endian pixel in b equals zero.
func isZero(b []byte, dataType string) bool {
	switch dataType {
	case DataTypeFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(b)) == 0
	case DataTypeDouble:
		return math.Float64frombits(binary.LittleEndian.Uint64(b)) == 0
	}
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
