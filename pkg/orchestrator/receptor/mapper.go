package receptor

import (
	"encoding/json"
	"io/ioutil"
	"regexp"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

const (
	// SKA dish instance range: SKA001 - SKA133.
	skaInstanceMin = 1
	skaInstanceMax = 133

	// MKT dish instance range: MKT000 - MKT063.
	mktInstanceMin = 0
	mktInstanceMax = 63

	prefixLen = 3

	// MinK and MaxK bound the channelization coefficient.
	MinK = 1
	MaxK = 2222
)

// Receptor IDs are an exact three letter prefix plus three digits. Spaces
// before, after, or in the middle of the ID are not accepted.
var receptorIDPattern = regexp.MustCompile(`^(SKA|MKT)([0-9]{3})$`)

// systemParameters is the on-disk system parameters document.
type systemParameters struct {
	DishParameters map[string]struct {
		VCC int `json:"vcc"`
		K   int `json:"k"`
	} `json:"dish_parameters"`
}

// Mapper translates external receptor identifiers to internal channelizer
// unit identifiers and per-receptor channelization coefficients. The mapping
// is loaded once and read-only afterwards.
type Mapper struct {
	receptorToChannelizer map[string]int
	channelizerToReceptor map[int]string
	receptorToK           map[string]int
}

// Load reads the system parameters file and builds a Mapper from it.
func Load(path string) (*Mapper, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read system parameters file")
	}
	return New(data)
}

// New builds a Mapper from the system parameters JSON document. The
// receptor to channelizer mapping must be a bijection.
func New(data []byte) (*Mapper, error) {
	var params systemParameters
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, errors.Wrap(err, "failed to parse system parameters")
	}
	if len(params.DishParameters) == 0 {
		return nil, errors.New("system parameters contain no dish parameters")
	}

	m := &Mapper{
		receptorToChannelizer: make(map[string]int),
		channelizerToReceptor: make(map[int]string),
		receptorToK:           make(map[string]int),
	}
	for id, p := range params.DishParameters {
		if err := validSyntax(id); err != nil {
			return nil, err
		}
		if p.VCC <= 0 {
			return nil, errors.Errorf(
				"receptor %s maps to invalid channelizer %d", id, p.VCC)
		}
		if p.K < MinK || p.K > MaxK {
			return nil, errors.Errorf(
				"receptor %s has k %d outside [%d, %d]", id, p.K, MinK, MaxK)
		}
		if other, ok := m.channelizerToReceptor[p.VCC]; ok {
			return nil, errors.Errorf(
				"channelizer %d assigned to both %s and %s", p.VCC, other, id)
		}
		m.receptorToChannelizer[id] = p.VCC
		m.channelizerToReceptor[p.VCC] = id
		m.receptorToK[id] = p.K
	}
	return m, nil
}

// ChannelizerID returns the channelizer unit a receptor is routed through.
func (m *Mapper) ChannelizerID(receptorID string) (int, error) {
	id, ok := m.receptorToChannelizer[receptorID]
	if !ok {
		return 0, errors.Errorf("unknown receptor %s", receptorID)
	}
	return id, nil
}

// ReceptorID returns the receptor routed through a channelizer unit.
func (m *Mapper) ReceptorID(channelizerID int) (string, error) {
	id, ok := m.channelizerToReceptor[channelizerID]
	if !ok {
		return "", errors.Errorf("unknown channelizer %d", channelizerID)
	}
	return id, nil
}

// K returns the channelization coefficient of a receptor.
func (m *Mapper) K(receptorID string) (int, error) {
	k, ok := m.receptorToK[receptorID]
	if !ok {
		return 0, errors.Errorf("unknown receptor %s", receptorID)
	}
	return k, nil
}

// Validate checks that the receptor ID is well formed, in range, and present
// in the loaded mapping.
func (m *Mapper) Validate(receptorID string) error {
	if err := validSyntax(receptorID); err != nil {
		return err
	}
	if _, ok := m.receptorToChannelizer[receptorID]; !ok {
		return errors.Errorf(
			"receptor %s is outside of the system capabilities", receptorID)
	}
	return nil
}

// ValidateAll checks a list of receptor IDs, returning the first failure.
func (m *Mapper) ValidateAll(receptorIDs []string) error {
	for _, id := range receptorIDs {
		if err := m.Validate(id); err != nil {
			return err
		}
	}
	return nil
}

// Receptors enumerates all known receptor IDs in sorted order.
func (m *Mapper) Receptors() []string {
	ids := make([]string, 0, len(m.receptorToChannelizer))
	for id := range m.receptorToChannelizer {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func validSyntax(receptorID string) error {
	match := receptorIDPattern.FindStringSubmatch(receptorID)
	if match == nil {
		return errors.Errorf(
			"receptor ID %s is not valid, it must be SKA001-SKA133 or "+
				"MKT000-MKT063 with no spaces", receptorID)
	}
	instance, _ := strconv.Atoi(match[2])
	switch match[1] {
	case "SKA":
		if instance < skaInstanceMin || instance > skaInstanceMax {
			return errors.Errorf(
				"receptor ID %s is out of range SKA001-SKA133", receptorID)
		}
	case "MKT":
		if instance < mktInstanceMin || instance > mktInstanceMax {
			return errors.Errorf(
				"receptor ID %s is out of range MKT000-MKT063", receptorID)
		}
	}
	return nil
}
