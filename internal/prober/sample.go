package prober

// Sample splits endpoints for a bounded sampling run: the first k and last
// k endpoints in input order are probed and the rest are assumed live.
// When k is not positive or the sample would cover everything, all
// endpoints are probed and assumed is empty.
func Sample(endpoints []string, k int) (probe, assumed []string) {
	if k <= 0 || 2*k >= len(endpoints) {
		return endpoints, nil
	}
	probe = make([]string, 0, 2*k)
	probe = append(probe, endpoints[:k]...)
	probe = append(probe, endpoints[len(endpoints)-k:]...)
	assumed = endpoints[k : len(endpoints)-k]
	return probe, assumed
}
