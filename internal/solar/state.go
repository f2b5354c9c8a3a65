package solar

// State classifies the sun's current phase at a coordinate, derived by
// replaying the day's event timeline up to a reference instant.
type State struct {
	State     string `json:"state"`
	Direction string `json:"direction"`

	Day                  bool `json:"day"`
	Night                bool `json:"night"`
	AstrologicalTwilight bool `json:"astrologicalTwilight"`
	NauticalTwilight     bool `json:"nauticalTwilight"`
	CivilTwilight        bool `json:"civilTwilight"`
	GoldenHour           bool `json:"goldenHour"`
	Twilight             bool `json:"twilight"`

	MorningTwilight   bool `json:"morningTwilight"`
	EveningTwilight   bool `json:"eveningTwilight"`
	Dawn              bool `json:"dawn"`
	Dusk              bool `json:"dusk"`
	MorningGoldenHour bool `json:"morningGoldenHour"`
	EveningGoldenHour bool `json:"eveningGoldenHour"`
}

const (
	directionRise = "rise"
	directionFall = "fall"

	stateNight                = "Night"
	stateAstronomicalTwilight = "Astronomical Twilight"
	stateNauticalTwilight     = "Nautical Twilight"
	stateCivilTwilight        = "Civil Twilight"
	stateDay                  = "Day"
)

type stateTransition struct {
	state      string
	direction  string
	flags      bool // whether the boolean columns below apply
	day        bool
	night      bool
	astroTw    bool
	nauticalTw bool
	civilTw    bool
	morningGH  bool
	eveningGH  bool
}

// transitions maps each event to the phase that begins at it.
var transitions = map[Event]stateTransition{
	NightEnd:               {state: stateAstronomicalTwilight, direction: directionRise, flags: true, astroTw: true},
	NauticalDawn:           {state: stateNauticalTwilight, direction: directionRise, flags: true, nauticalTw: true},
	CivilDawn:              {state: stateCivilTwilight, direction: directionRise, flags: true, civilTw: true, morningGH: true},
	Sunrise:                {state: stateCivilTwilight, direction: directionRise, flags: true, civilTw: true, morningGH: true},
	SunriseEnd:             {state: stateDay, direction: directionRise, flags: true, day: true, morningGH: true},
	MorningGoldenHourEnd:   {state: stateDay, direction: directionRise, flags: true, day: true},
	SolarNoon:              {direction: directionFall},
	EveningGoldenHourStart: {state: stateDay, direction: directionFall, flags: true, day: true, eveningGH: true},
	SunsetStart:            {state: stateDay, direction: directionFall, flags: true, day: true, eveningGH: true},
	Sunset:                 {state: stateCivilTwilight, direction: directionFall, flags: true, civilTw: true, eveningGH: true},
	CivilDusk:              {state: stateNauticalTwilight, direction: directionFall, flags: true, nauticalTw: true},
	NauticalDusk:           {state: stateAstronomicalTwilight, direction: directionFall, flags: true, astroTw: true},
	NightStart:             {state: stateNight, direction: directionFall, flags: true, night: true},
	Nadir:                  {direction: directionRise},
}

func (s *State) apply(e Event) {
	tr, ok := transitions[e]
	if !ok {
		return
	}
	if tr.state != "" {
		s.State = tr.state
	}
	s.Direction = tr.direction
	if !tr.flags {
		return
	}
	s.Day = tr.day
	s.Night = tr.night
	s.AstrologicalTwilight = tr.astroTw
	s.NauticalTwilight = tr.nauticalTw
	s.CivilTwilight = tr.civilTw
	s.GoldenHour = tr.morningGH || tr.eveningGH
	s.Twilight = s.AstrologicalTwilight || s.NauticalTwilight || s.CivilTwilight
}

// finalize computes the derived direction-dependent booleans once the
// timeline walk is complete.
func (s *State) finalize() {
	s.MorningTwilight = s.Direction == directionRise && s.Twilight
	s.EveningTwilight = s.Direction == directionFall && s.Twilight
	s.Dawn = s.Direction == directionRise && s.CivilTwilight
	s.Dusk = s.Direction == directionFall && s.CivilTwilight
	s.MorningGoldenHour = s.Direction == directionRise && s.GoldenHour
	s.EveningGoldenHour = s.Direction == directionFall && s.GoldenHour
}
