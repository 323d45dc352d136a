package ringhash

// ChooseHost maps a request hash to a host: the entry with the smallest ring
// hash at or above h, wrapping to the first entry when h exceeds every ring
// hash. Returns nil only for an empty ring.
//
// attempt offsets the chosen index by attempt modulo the ring size, so retry
// logic can steer away from the primary pick. This does not guarantee a
// different host: the offset can land on another entry for the same host, or
// come full circle when attempt is a multiple of the ring size.
//
// Ported from ketama's ketama_get_server. The search deliberately keeps
// signed bounds: highp goes negative when the answer is the first entry,
// and lowp > highp is the wrap-to-front signal. Do not rewrite with
// unsigned indices.
func (r *Ring) ChooseHost(h uint64, attempt uint32) Host {
	if len(r.entries) == 0 {
		return nil
	}

	var lowp, highp int64
	if r.shards != nil {
		lowp, highp = r.shardBounds(h)
	} else {
		lowp, highp = 0, int64(len(r.entries))
	}

	var midp int64
	for {
		midp = (lowp + highp) / 2

		if midp == int64(len(r.entries)) {
			midp = 0
			break
		}

		midval := r.entries[midp].hash
		var midval1 uint64
		if midp != 0 {
			midval1 = r.entries[midp-1].hash
		}

		if h <= midval && h > midval1 {
			break
		}

		if midval < h {
			lowp = midp + 1
		} else {
			highp = midp - 1
		}

		if lowp > highp {
			midp = 0
			break
		}
	}

	if attempt > 0 {
		midp = (midp + int64(attempt)) % int64(len(r.entries))
	}

	return r.entries[midp].host
}
