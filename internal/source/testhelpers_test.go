package source

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/datum-agro/safra-cli/internal/model"
	"github.com/datum-agro/safra-cli/internal/store"
)

// fetcherFunc adapts a function to the fetcher.Fetcher interface.
type fetcherFunc func(ctx context.Context, url string) (io.ReadCloser, error)

func (f fetcherFunc) Download(ctx context.Context, url string) (io.ReadCloser, error) {
	return f(ctx, url)
}

func (f fetcherFunc) DownloadToFile(ctx context.Context, url, path string) (int64, error) {
	return 0, errors.New("not implemented")
}

func body(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

// fakeStore records what the adapters persist. Unimplemented Store methods
// panic via the embedded nil interface, which is what we want: an adapter
// calling something unexpected should fail loudly.
type fakeStore struct {
	store.Store

	cropYears []int

	replaced     []model.CropYield
	stations     []model.Station
	localities   []model.Locality
	observations []model.Observation

	obsCalls     int
	obsFailCalls map[int]error // 1-based call number -> error to return
}

func (s *fakeStore) ReplaceCropYields(_ context.Context, records []model.CropYield) (int64, error) {
	s.replaced = records
	return int64(len(records)), nil
}

func (s *fakeStore) CropYears(_ context.Context) ([]int, error) {
	return s.cropYears, nil
}

func (s *fakeStore) UpsertStations(_ context.Context, stations []model.Station) (int64, error) {
	s.stations = append(s.stations, stations...)
	return int64(len(stations)), nil
}

func (s *fakeStore) UpsertLocalities(_ context.Context, localities []model.Locality) (int64, error) {
	s.localities = append(s.localities, localities...)
	return int64(len(localities)), nil
}

func (s *fakeStore) UpsertObservations(_ context.Context, observations []model.Observation) (int64, error) {
	s.obsCalls++
	if err, ok := s.obsFailCalls[s.obsCalls]; ok {
		return 0, err
	}
	s.observations = append(s.observations, observations...)
	return int64(len(observations)), nil
}
