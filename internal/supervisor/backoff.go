package supervisor

import "time"

// restartDelay returns min(ceiling, base * 2^restartCount).
func restartDelay(base, ceiling time.Duration, restartCount int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < restartCount; i++ {
		if d >= ceiling/2 {
			return ceiling
		}
		d *= 2
	}
	if d > ceiling {
		return ceiling
	}
	return d
}

// pruneWindow drops timestamps older than window before now.
func pruneWindow(history []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for i < len(history) && !history[i].After(cutoff) {
		i++
	}
	return history[i:]
}
