package vcf

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVCF = `##fileformat=VCFv4.2
##FORMAT=<ID=GT,Number=1,Type=String,Description="Genotype">
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO	FORMAT	S1	S2	S3
20	100	rs1	A	C	.	PASS	.	GT	0|1	1/0	0/0
20	200	.	G	T,TT	.	PASS	END=250	GT:DP	./.	1|2	0|0:7
20	300	rs3	C	.	.	PASS	.	GT	0/0	0|0	0/0
`

func newTestReader(t *testing.T, body string, opts ReadOpts) *Reader {
	r, err := NewReader("test.vcf", strings.NewReader(body), opts)
	require.NoError(t, err)
	return r
}

func readAll(t *testing.T, r *Reader) []*GTRec {
	var recs []*GTRec
	for {
		rec, err := r.Read()
		if err == io.EOF {
			return recs
		}
		require.NoError(t, err)
		recs = append(recs, rec)
	}
}

func TestReader(t *testing.T) {
	r := newTestReader(t, testVCF, ReadOpts{})
	require.Equal(t, []string{"S1", "S2", "S3"}, r.Samples().IDs())
	recs := readAll(t, r)
	require.Equal(t, 3, len(recs))

	m0 := recs[0].Marker()
	assert.Equal(t, int32(100), m0.Pos())
	assert.Equal(t, 2, m0.NAlleles())
	assert.Equal(t, 0, recs[0].Allele1(0))
	assert.Equal(t, 1, recs[0].Allele2(0))
	assert.True(t, recs[0].Phased(0))
	assert.False(t, recs[0].Phased(1))
	assert.False(t, recs[0].AllPhased())

	m1 := recs[1].Marker()
	assert.Equal(t, 3, m1.NAlleles())
	assert.Equal(t, int32(250), m1.End())
	assert.Equal(t, -1, recs[1].Allele1(0))
	assert.Equal(t, -1, recs[1].Allele2(0))
	assert.Equal(t, 1, recs[1].Allele1(1))
	assert.Equal(t, 2, recs[1].Allele2(1))

	// Monomorphic ALT "." keeps a single allele.
	assert.Equal(t, 1, recs[2].Marker().NAlleles())
}

func TestReaderExcludes(t *testing.T) {
	r := newTestReader(t, testVCF, ReadOpts{
		ExcludeSamples: map[string]bool{"S2": true},
		ExcludeMarkers: map[string]bool{"rs3": true, "20:200": true},
	})
	require.Equal(t, []string{"S1", "S3"}, r.Samples().IDs())
	recs := readAll(t, r)
	require.Equal(t, 1, len(recs))
	assert.Equal(t, int32(100), recs[0].Marker().Pos())
	// Column remapping after exclusion: S3 is now sample 1.
	assert.Equal(t, 0, recs[0].Allele1(1))
	assert.Equal(t, 0, recs[0].Allele2(1))
}

func TestReaderRegion(t *testing.T) {
	region, err := ParseRegion("20:150-250")
	require.NoError(t, err)
	r := newTestReader(t, testVCF, ReadOpts{Region: region})
	recs := readAll(t, r)
	require.Equal(t, 1, len(recs))
	assert.Equal(t, int32(200), recs[0].Marker().Pos())

	_, err = ParseRegion("20:300-100")
	assert.Error(t, err)
}

func TestReaderNonMonotone(t *testing.T) {
	body := `##fileformat=VCFv4.2
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO	FORMAT	S1
20	200	.	A	C	.	PASS	.	GT	0|1
20	100	.	A	C	.	PASS	.	GT	0|1
`
	r := newTestReader(t, body, ReadOpts{})
	_, err := r.Read()
	require.NoError(t, err)
	_, err = r.Read()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-monotone")
	assert.Contains(t, err.Error(), "test.vcf")
}

func TestReaderBadFormat(t *testing.T) {
	body := `##fileformat=VCFv4.2
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO	FORMAT	S1
20	100	.	A	C	.	PASS	.	DP:GT	7:0|1
`
	r := newTestReader(t, body, ReadOpts{})
	_, err := r.Read()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GT")
}

func TestRefReader(t *testing.T) {
	body := `##fileformat=VCFv4.2
#CHROM	POS	ID	REF	ALT	QUAL	FILTER	INFO	FORMAT	R1	R2
20	100	.	A	C	.	PASS	.	GT	0|1	1|1
20	200	.	G	T	.	PASS	.	GT	0|0	0/1
`
	rr := NewRefReader(newTestReader(t, body, ReadOpts{}), 0)
	rec, err := rr.Read()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 1, 1},
		[]int{rec.Allele(0), rec.Allele(1), rec.Allele(2), rec.Allele(3)})
	// Unphased reference genotype is a format error.
	_, err = rr.Read()
	require.Error(t, err)
}
