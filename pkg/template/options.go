package template

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/isceproc/isceproc/pkg/engine"
)

// Stack processors.
const (
	ProcessorTops     = "topsStack"
	ProcessorStripmap = "stripmapStack"
)

// SNWE is a geographic box as south, north, west and east in degrees.
type SNWE [4]float64

// ParseSNWE parses four numbers separated by commas or spaces.
func ParseSNWE(s string) (SNWE, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	if len(fields) != 4 {
		return SNWE{}, fmt.Errorf("expected S, N, W, E but got %q", s)
	}

	var box SNWE
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return SNWE{}, fmt.Errorf("invalid coordinate %q", f)
		}
		box[i] = v
	}
	if box[0] >= box[1] {
		return SNWE{}, fmt.Errorf("box %q must have S < N", s)
	}
	if box[2] >= box[3] {
		return SNWE{}, fmt.Errorf("box %q must have W < E; boxes crossing the antimeridian are not supported", s)
	}
	if box[0] < -90 || box[1] > 90 {
		return SNWE{}, fmt.Errorf("latitude out of range in %q", s)
	}
	return box, nil
}

// Buffer grows the box by d degrees on every side.
func (b SNWE) Buffer(d float64) SNWE {
	return SNWE{b[0] - d, b[1] + d, b[2] - d, b[3] + d}
}

// Fields returns the coordinates formatted as command-line arguments.
func (b SNWE) Fields() []string {
	out := make([]string, len(b))
	for i, v := range b {
		out[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return out
}

// String returns the coordinates separated by spaces.
func (b SNWE) String() string {
	return strings.Join(b.Fields(), " ")
}

// StackOptions are the isce.* settings of a template after defaults were
// filled in.
type StackOptions struct {
	Processor    string  `key:"isce.processor" validate:"required,oneof=topsStack stripmapStack"`
	Workflow     string  `key:"isce.workflow" validate:"required,oneof=slc correlation interferogram offset"`
	DemSNWE      *SNWE   `key:"isce.demSNWE"`
	DemFile      string  `key:"isce.demFile"`
	DemSource    string  `key:"isce.demSource" validate:"required,oneof=srtm1 srtm3 nasadem gsi_dehm"`
	DemFillValue int     `key:"isce.demFillValue"`
	DemURL       string  `key:"isce.demUrl" validate:"omitempty,url"`
	DemBuffer    float64 `key:"isce.demBuffer" validate:"gte=0"`
	BoundingBox  *SNWE   `key:"isce.boundingBox"`

	// ReferenceDate is YYYYMMDD; empty selects the first acquisition.
	ReferenceDate string  `key:"isce.referenceDate" validate:"omitempty,datetime=20060102"`
	AzimuthLooks  int     `key:"isce.azimuthLooks" validate:"gte=1"`
	RangeLooks    int     `key:"isce.rangeLooks" validate:"gte=1"`
	FiltStrength  float64 `key:"isce.filtStrength" validate:"gte=0,lte=1"`
	UnwrapMethod  string  `key:"isce.unwrapMethod" validate:"required,oneof=snaphu icu"`
	UseGPU        bool    `key:"isce.useGPU"`
	NumProcess    int     `key:"isce.numProcess" validate:"gte=1"`

	// topsStack
	VirtualMerge     bool   `key:"isce.virtualMerge"`
	Coregistration   string `key:"isce.coregistration" validate:"required,oneof=geometry NESD"`
	SwathNum         []int  `key:"isce.swathNum" validate:"omitempty,dive,oneof=1 2 3"`
	NumConnection    int    `key:"isce.numConnection" validate:"gte=1"`
	OrbitDir         string `key:"isce.orbitDir"`
	AuxDir           string `key:"isce.auxDir"`
	StartDate        string `key:"isce.startDate" validate:"omitempty,datetime=20060102"`
	EndDate          string `key:"isce.endDate" validate:"omitempty,datetime=20060102"`
	NumProcess4Topo  int    `key:"isce.numProcess4topo" validate:"gte=0"`
	NumConnectionIon int    `key:"isce.numConnectionIon" validate:"gte=1"`
	ParamIonFile     string `key:"isce.paramIonFile"`
	UpdateMode       bool   `key:"isce.updateMode"`

	// stripmapStack
	ZeroDoppler     bool   `key:"isce.zeroDoppler"`
	Focus           bool   `key:"isce.focus"`
	FBD2FBS         bool   `key:"isce.ALOS.fbd2fbs"`
	Polarization    string `key:"isce.ALOS2.polarization" validate:"omitempty,oneof=HH VV"`
	MaxTempBaseline int    `key:"isce.maxTempBaseline" validate:"gte=0"`
	MaxPerpBaseline int    `key:"isce.maxPerpBaseline" validate:"gte=0"`
	ApplyWaterMask  bool   `key:"isce.applyWaterMask"`

	// TemplateFile is the absolute path of the template.
	TemplateFile string

	// Project and Sensor are derived from the template file name.
	Project string
	Sensor  string
}

// IsTops reports whether the Sentinel-1 TOPS processor is selected.
func (o *StackOptions) IsTops() bool {
	return o.Processor == ProcessorTops
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if key := f.Tag.Get("key"); key != "" {
			return key
		}
		return f.Name
	})
	return v
}

// Options converts filled template values into StackOptions. Paths are
// expanded to absolute paths and the result is validated.
func Options(values Values, templatePath string) (*StackOptions, error) {
	absTemplate, err := filepath.Abs(templatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve template path: %w", err)
	}

	processor := values["isce.processor"]
	if processor != ProcessorTops && processor != ProcessorStripmap {
		return nil, engine.NewPermanentError(
			fmt.Sprintf("unsupported stack processor %q, supported processors: [%s, %s]",
				processor, ProcessorTops, ProcessorStripmap), nil).
			WithCode(engine.ErrCodeValidation).
			WithDetail("key", "isce.processor")
	}

	d := &decoder{values: values}
	opts := &StackOptions{
		Processor:        processor,
		Workflow:         d.str("isce.workflow"),
		DemSNWE:          d.snwe("isce.demSNWE"),
		DemFile:          d.path("isce.demFile"),
		DemSource:        d.str("isce.demSource"),
		DemFillValue:     d.int("isce.demFillValue"),
		DemURL:           d.str("isce.demUrl"),
		DemBuffer:        d.float("isce.demBuffer"),
		BoundingBox:      d.snwe("isce.boundingBox"),
		ReferenceDate:    d.str("isce.referenceDate"),
		AzimuthLooks:     d.int("isce.azimuthLooks"),
		RangeLooks:       d.int("isce.rangeLooks"),
		FiltStrength:     d.float("isce.filtStrength"),
		UnwrapMethod:     d.str("isce.unwrapMethod"),
		UseGPU:           d.bool("isce.useGPU"),
		NumProcess:       d.int("isce.numProcess"),
		VirtualMerge:     d.bool("isce.virtualMerge"),
		Coregistration:   d.str("isce.coregistration"),
		SwathNum:         d.ints("isce.swathNum"),
		NumConnection:    d.int("isce.numConnection"),
		OrbitDir:         d.path("isce.orbitDir"),
		AuxDir:           d.path("isce.auxDir"),
		StartDate:        d.str("isce.startDate"),
		EndDate:          d.str("isce.endDate"),
		NumProcess4Topo:  d.int("isce.numProcess4topo"),
		NumConnectionIon: d.int("isce.numConnectionIon"),
		ParamIonFile:     d.path("isce.paramIonFile"),
		UpdateMode:       d.bool("isce.updateMode"),
		ZeroDoppler:      d.bool("isce.zeroDoppler"),
		Focus:            d.bool("isce.focus"),
		FBD2FBS:          d.bool("isce.ALOS.fbd2fbs"),
		Polarization:     d.str("isce.ALOS2.polarization"),
		MaxTempBaseline:  d.int("isce.maxTempBaseline"),
		MaxPerpBaseline:  d.int("isce.maxPerpBaseline"),
		ApplyWaterMask:   d.bool("isce.applyWaterMask"),
		TemplateFile:     absTemplate,
	}
	if err := errors.Join(d.errs...); err != nil {
		return nil, engine.NewPermanentError("invalid template", err).WithCode(engine.ErrCodeValidation)
	}

	opts.Sensor, opts.Project = ProjectSensor(absTemplate)

	if err := validate.Struct(opts); err != nil {
		return nil, engine.NewPermanentError("invalid template", describe(err)).
			WithCode(engine.ErrCodeValidation)
	}
	return opts, nil
}

// describe turns validator errors into messages naming template keys.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		msgs = append(msgs, fmt.Errorf("%s = %v does not satisfy %s", fe.Field(), fe.Value(), rule))
	}
	return errors.Join(msgs...)
}

// ExpandPath expands '~' and environment variables in p and makes it
// absolute.
func ExpandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	p = expandValue(p)
	return filepath.Abs(p)
}

// decoder converts template values, collecting every conversion error.
type decoder struct {
	values Values
	errs   []error
}

func (d *decoder) str(key string) string {
	return d.values[key]
}

func (d *decoder) int(key string) int {
	v, ok := d.values[key]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("%s: %q is not an integer", key, v))
	}
	return n
}

func (d *decoder) ints(key string) []int {
	v, ok := d.values[key]
	if !ok {
		return nil
	}
	var out []int
	for _, f := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
		n, err := strconv.Atoi(f)
		if err != nil {
			d.errs = append(d.errs, fmt.Errorf("%s: %q is not an integer", key, f))
			continue
		}
		out = append(out, n)
	}
	return out
}

func (d *decoder) float(key string) float64 {
	v, ok := d.values[key]
	if !ok {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("%s: %q is not a number", key, v))
	}
	return f
}

func (d *decoder) bool(key string) bool {
	v, ok := d.values[key]
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("%s: %q is not yes or no", key, v))
	}
	return b
}

func (d *decoder) snwe(key string) *SNWE {
	v, ok := d.values[key]
	if !ok {
		return nil
	}
	box, err := ParseSNWE(v)
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("%s: %w", key, err))
		return nil
	}
	return &box
}

func (d *decoder) path(key string) string {
	p, err := ExpandPath(d.values[key])
	if err != nil {
		d.errs = append(d.errs, fmt.Errorf("%s: %w", key, err))
	}
	return p
}
