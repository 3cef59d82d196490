// Package quota implements per-country cap accounting with resume
// baselines. A campaign's caps budget each run segment, not its lifetime:
// on every transition into running the current sent counts are
// snapshotted as the baseline, and remaining capacity is measured against
// that snapshot.
package quota

// EffectiveTotal is the number of leads a campaign should ever emit given
// its enrollment and caps: per country, the lesser of enrolled and cap.
// Countries without a cap contribute nothing; an operator must cap every
// country they intend to drain.
func EffectiveTotal(enrolled, caps map[string]int) int {
	total := 0
	for country, n := range enrolled {
		cap, ok := caps[country]
		if !ok {
			continue
		}
		if n < cap {
			total += n
		} else {
			total += cap
		}
	}
	return total
}

// Remaining is the capacity left for a country in the current run
// segment: cap minus what has been sent on top of the baseline. Never
// negative; zero for countries without a cap.
func Remaining(caps, baseline, sent map[string]int, country string) int {
	cap, ok := caps[country]
	if !ok {
		return 0
	}
	used := sent[country] - baseline[country]
	if used < 0 {
		used = 0
	}
	if rem := cap - used; rem > 0 {
		return rem
	}
	return 0
}

// SnapshotBaseline copies the per-country sent counts for the
// pause-to-running transition.
func SnapshotBaseline(sent map[string]int) map[string]int {
	baseline := make(map[string]int, len(sent))
	for country, n := range sent {
		baseline[country] = n
	}
	return baseline
}
