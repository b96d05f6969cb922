package prompt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// AgeBracket maps an inclusive upper age bound to a body proportion descriptor.
type AgeBracket struct {
	Name        string
	MaxAge      int
	Child       bool
	Proportions string
}

// ageBrackets is ordered and non-overlapping; the last bracket is open ended.
var ageBrackets = []AgeBracket{
	{"toddler", 2, true, "toddler proportions: very large head about one quarter of body height, short chubby limbs, round belly, small hands and feet, height well below an adult's knee to hip"},
	{"young child", 5, true, "young child proportions: large head about one fifth of body height, short legs, soft rounded cheeks and limbs, small stature reaching an adult's waist"},
	{"child", 9, true, "child proportions: head about one sixth of body height, slim short limbs, no muscle definition, stature reaching an adult's chest"},
	{"preteen", 12, true, "preteen proportions: head slightly under one sixth of body height, lengthening limbs, childlike face, stature below an adult's shoulder"},
	{"teenager", 17, false, "teenager proportions: head about one seventh of body height, long limbs, youthful face, stature close to adult height"},
	{"young adult", 30, false, "young adult proportions: head about one seventh of body height, fully grown limbs, defined jawline, full adult stature"},
	{"adult", 55, false, "adult proportions: head about one eighth of body height, mature build, full adult stature"},
	{"senior", -1, false, "senior proportions: head about one eighth of body height, slightly stooped posture, thinner limbs, gentle wrinkles, grey or white hair"},
}

const adultBracket = 6

// AgeDescriptor is the resolved age label plus its proportion clause.
type AgeDescriptor struct {
	Age         int
	Known       bool
	Label       string
	Proportions string
	Bracket     AgeBracket
}

// Child reports whether adult-proportion guards apply.
func (d AgeDescriptor) Child() bool { return d.Known && d.Bracket.Child }

var agePattern = regexp.MustCompile(`\d+`)

// AgeDescriptors resolves free-form age input. The label always carries the
// numeric age when one is known; unknown input yields the adult default.
func AgeDescriptors(age string) AgeDescriptor {
	n, ok := parseAge(age)
	if !ok {
		b := ageBrackets[adultBracket]
		return AgeDescriptor{Label: b.Name, Proportions: b.Proportions, Bracket: b}
	}
	b := bracketFor(n)
	return AgeDescriptor{
		Age:         n,
		Known:       true,
		Label:       fmt.Sprintf("%d-year-old %s", n, b.Name),
		Proportions: b.Proportions,
		Bracket:     b,
	}
}

func parseAge(age string) (int, bool) {
	m := agePattern.FindString(strings.TrimSpace(age))
	if m == "" {
		return 0, false
	}
	n, err := strconv.Atoi(m)
	if err != nil || n < 0 || n > 130 {
		return 0, false
	}
	return n, true
}

func bracketFor(n int) AgeBracket {
	for _, b := range ageBrackets {
		if b.MaxAge >= 0 && n <= b.MaxAge {
			return b
		}
	}
	return ageBrackets[len(ageBrackets)-1]
}
