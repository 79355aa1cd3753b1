package huawei

import (
	"context"
	"errors"
	"fmt"
	"testing"

	dnsModel "github.com/huaweicloud/huaweicloud-sdk-go-v3/services/dns/v2/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"acme-distributed/internal/logging"
)

type recordSet struct {
	name    string
	typ     string
	records []string
}

// fakeAPI 内存中的华为云 DNS，同名同类型只允许一个记录集
type fakeAPI struct {
	zones  map[string]string // 区域名 -> ID
	sets   map[string]*recordSet
	nextID int

	creates int
	updates int
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{zones: map[string]string{"example.com.": "zone-1"}, sets: map[string]*recordSet{}}
}

func (f *fakeAPI) ListPublicZones(request *dnsModel.ListPublicZonesRequest) (*dnsModel.ListPublicZonesResponse, error) {
	var zones []dnsModel.PublicZoneResp
	for name, id := range f.zones {
		zones = append(zones, dnsModel.PublicZoneResp{Id: &id, Name: &name})
	}
	return &dnsModel.ListPublicZonesResponse{Zones: &zones}, nil
}

func (f *fakeAPI) ListRecordSetsByZone(request *dnsModel.ListRecordSetsByZoneRequest) (*dnsModel.ListRecordSetsByZoneResponse, error) {
	var sets []dnsModel.ListRecordSets
	for id, set := range f.sets {
		if request.Name != nil && *request.Name != set.name {
			continue
		}
		if request.Type != nil && *request.Type != set.typ {
			continue
		}
		records := append([]string(nil), set.records...)
		sets = append(sets, dnsModel.ListRecordSets{Id: &id, Name: &set.name, Type: &set.typ, Records: &records})
	}
	return &dnsModel.ListRecordSetsByZoneResponse{Recordsets: &sets}, nil
}

func (f *fakeAPI) CreateRecordSet(request *dnsModel.CreateRecordSetRequest) (*dnsModel.CreateRecordSetResponse, error) {
	f.creates++
	for _, set := range f.sets {
		if set.name == request.Body.Name && set.typ == request.Body.Type {
			return nil, errors.New("DNS.0312: record set already exists")
		}
	}
	f.nextID++
	id := fmt.Sprintf("rs-%d", f.nextID)
	f.sets[id] = &recordSet{name: request.Body.Name, typ: request.Body.Type, records: request.Body.Records}
	return &dnsModel.CreateRecordSetResponse{Id: &id}, nil
}

func (f *fakeAPI) ShowRecordSet(request *dnsModel.ShowRecordSetRequest) (*dnsModel.ShowRecordSetResponse, error) {
	set, ok := f.sets[request.RecordsetId]
	if !ok {
		return nil, errors.New("not found")
	}
	records := append([]string(nil), set.records...)
	return &dnsModel.ShowRecordSetResponse{Id: &request.RecordsetId, Name: &set.name, Type: &set.typ, Records: &records}, nil
}

func (f *fakeAPI) UpdateRecordSet(request *dnsModel.UpdateRecordSetRequest) (*dnsModel.UpdateRecordSetResponse, error) {
	f.updates++
	set, ok := f.sets[request.RecordsetId]
	if !ok {
		return nil, errors.New("not found")
	}
	set.records = *request.Body.Records
	return &dnsModel.UpdateRecordSetResponse{}, nil
}

func (f *fakeAPI) DeleteRecordSet(request *dnsModel.DeleteRecordSetRequest) (*dnsModel.DeleteRecordSetResponse, error) {
	if _, ok := f.sets[request.RecordsetId]; !ok {
		return nil, errors.New("not found")
	}
	delete(f.sets, request.RecordsetId)
	return &dnsModel.DeleteRecordSetResponse{}, nil
}

func TestAddRecordMergesValues(t *testing.T) {
	api := newFakeAPI()
	p := &DNSProvider{client: api, logger: logging.Discard()}
	ctx := context.Background()

	apex, err := p.AddRecord(ctx, "example.com", "_acme-challenge.example.com", "TXT", "abc")
	require.NoError(t, err)
	wildcard, err := p.AddRecord(ctx, "*.example.com", "_acme-challenge.example.com", "TXT", "def")
	require.NoError(t, err)

	assert.Equal(t, "rs-1/abc", apex)
	assert.Equal(t, "rs-1/def", wildcard)
	assert.Equal(t, 1, api.creates)
	require.Len(t, api.sets, 1)
	assert.Equal(t, []string{`"abc"`, `"def"`}, api.sets["rs-1"].records)

	// 重复的值不再写入
	_, err = p.AddRecord(ctx, "example.com", "_acme-challenge.example.com", "TXT", "abc")
	require.NoError(t, err)
	assert.Equal(t, 1, api.updates)

	require.NoError(t, p.DeleteRecord(ctx, "example.com", apex))
	assert.Equal(t, []string{`"def"`}, api.sets["rs-1"].records)

	require.NoError(t, p.DeleteRecord(ctx, "*.example.com", wildcard))
	assert.Empty(t, api.sets)
}

func TestAddRecordSeparateNames(t *testing.T) {
	api := newFakeAPI()
	p := &DNSProvider{client: api, logger: logging.Discard()}
	ctx := context.Background()

	_, err := p.AddRecord(ctx, "example.com", "_acme-challenge.example.com", "TXT", "abc")
	require.NoError(t, err)
	id, err := p.AddRecord(ctx, "www.example.com", "_acme-challenge.www.example.com", "TXT", "def")
	require.NoError(t, err)

	assert.Equal(t, "rs-2/def", id)
	assert.Equal(t, 2, api.creates)
	assert.Equal(t, "_acme-challenge.www.example.com.", api.sets["rs-2"].name)
}

func TestAddRecordUnknownZone(t *testing.T) {
	p := &DNSProvider{client: newFakeAPI(), logger: logging.Discard()}
	_, err := p.AddRecord(context.Background(), "example.org", "_acme-challenge.example.org", "TXT", "abc")
	require.Error(t, err)
}
