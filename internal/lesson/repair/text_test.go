package repair

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlan = `{"title":"Colors \"and\" shapes","description":"Learn\\colors","duration":15,` +
	`"objectives":["see red","find blue"],"images":[{"id":"img_1","prompt":"a red ball"}],` +
	`"activities":[{"id":"a1","type":"choice","question":"Which is red?","options":[` +
	`{"id":"o1","text":"Apple","isCorrect":true},{"id":"o2","text":"Sky","isCorrect":false}]},` +
	`{"id":"a2","type":"drag-sort","items":[{"id":"i1","text":"small"},{"id":"i2","text":"big"}],"correctOrder":["i1","i2"]}],` +
	`"unicode":"彩虹 \u00e9","empty":{},"none":[],"n":-1.5e3,"ok":true,"nil":null}`

func TestCompleteTruncatedEveryPrefix(t *testing.T) {
	require.True(t, json.Valid([]byte(samplePlan)))
	for cut := 1; cut <= len(samplePlan); cut++ {
		prefix := samplePlan[:cut]
		out, err := completeTruncated(prefix)
		require.NoError(t, err, "prefix %q", prefix)
		var v map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &v), "prefix %q produced %q", prefix, out)
	}
}

func TestCompleteStageEveryPrefixOfLooseInput(t *testing.T) {
	const loose = `{title:"Fruit Fun", activities:[{id:'a1', type:"choice", question:'Pick a fruit', ` +
		`options:[{id:"o1", text:"Apple", isCorrect:true}]}]}`
	for cut := 1; cut <= len(loose); cut++ {
		prefix := loose[:cut]
		out, err := completeStage(prefix)
		require.NoError(t, err, "prefix %q", prefix)
		var v map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &v), "prefix %q produced %q", prefix, out)
	}
}

func TestCompleteCutsBackPartialBareKey(t *testing.T) {
	cases := map[string]string{
		`{tit`:                        `{}`,
		`{"title":"Fruit Fun", activ`: `{"title":"Fruit Fun"}`,
		`{"a":{"b":1, c `:             `{"a":{"b":1}}`,
	}
	for in, want := range cases {
		out, err := completeTruncated(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, out, in)
	}

	res, err := New(nil, WithoutLibrary()).Repair(`{title:"Fruit Fun", activ`)
	require.NoError(t, err)
	assert.Equal(t, StageComplete, res.Stage)
	assert.Equal(t, map[string]any{"title": "Fruit Fun"}, res.Value)
}

func TestCompleteClosesInStackOrder(t *testing.T) {
	out, err := completeTruncated(`{"a":[{"b":[1,{"c":"d"`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[{"b":[1,{"c":"d"}]}]}`, out)
}

func TestCompleteDropsDanglingMembers(t *testing.T) {
	cases := map[string]string{
		`{"a":1,`:        `{"a":1}`,
		`{"a":1,"b"`:     `{"a":1}`,
		`{"a":1,"b":`:    `{"a":1}`,
		`{"a":1,"b":tr`:  `{"a":1}`,
		`{"a":[`:         `{"a":[]}`,
		`{"a":"x\`:       `{"a":"x"}`,
		`{"a":"x\u00`:    `{"a":"x"}`,
		`{"a":1} tail {`: `{"a":1}`,
	}
	for in, want := range cases {
		out, err := completeTruncated(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, out, in)
	}
}

func TestCompleteRejectsMismatchedCloser(t *testing.T) {
	_, err := completeTruncated(`{"a":[1}`)
	require.Error(t, err)
}

func TestConvertSingleQuotesPreservesDoubleQuoted(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a":"it's \"fine\"", 'b':'x'}`, `{"a":"it's \"fine\"", "b":"x"}`},
		{`{'q':'say "hi"'}`, `{"q":"say \"hi\""}`},
		{`{'q':'don\'t'}`, `{"q":"don't"}`},
		{`{'q':'rock 'n' roll', "k":"v"}`, `{"q":"rock 'n' roll", "k":"v"}`},
		{`{"path":"C:\\dir\\'x'", 'm':'\n'}`, `{"path":"C:\\dir\\'x'", "m":"\n"}`},
	}
	for _, tc := range cases {
		got := convertSingleQuotes(tc.in)
		assert.Equal(t, tc.want, got, tc.in)
		assert.True(t, json.Valid([]byte(got)), got)
	}
}

func TestConvertSingleQuotesDoubleQuotedProperty(t *testing.T) {
	doubles := []string{`"plain"`, `"it's"`, `"esc \" quote"`, `"back\\slash"`, `"'single' inside"`, `"\\\""`}
	singles := []string{`'one'`, `'with "dq"'`, `'x\'y'`}
	for _, d := range doubles {
		for _, s := range singles {
			in := "{" + `"k1":` + d + `,'k2':` + s + `,"k3":` + d + "}"
			out := convertSingleQuotes(in)
			assert.True(t, strings.HasPrefix(out, `{"k1":`+d+`,`), "double-quoted value altered: %s", out)
			assert.True(t, strings.HasSuffix(out, `,"k3":`+d+"}"), "double-quoted value altered: %s", out)
			assert.True(t, json.Valid([]byte(out)), out)
		}
	}
}

func TestSanitizeOnlyTouchesStrings(t *testing.T) {
	in := "{\n\t\"a\": \"x\ny\",\n\t\"b\": \"tab\there\"\n}"
	out := sanitize(in)
	assert.Equal(t, "{\n\t\"a\": \"x\\ny\",\n\t\"b\": \"tab\\there\"\n}", out)
}

func TestStripCommentsKeepsURLs(t *testing.T) {
	in := `{"u":"https://a.b/c", 'v':'//x' // note
, /* gone */ "w":1}`
	out := stripComments(in)
	assert.Equal(t, "{\"u\":\"https://a.b/c\", 'v':'//x' \n,  \"w\":1}", out)
}

func TestQuoteKeysByScanIgnoresStringValues(t *testing.T) {
	in := `{a:"x, y: z", b:[1, c, -2], "d":{e:true}}`
	out := quoteKeysByScan(in)
	assert.Equal(t, `{"a":"x, y: z", "b":[1, c, -2], "d":{"e":true}}`, out)
}

func TestQuoteBareKeysSkipsStrings(t *testing.T) {
	in := `{a:"{b: 1}", c:2}`
	assert.Equal(t, `{"a":"{b: 1}", "c":2}`, quoteBareKeys(in))
}

func TestFirstBalancedObject(t *testing.T) {
	obj, ok := firstBalancedObject(`noise {"a":"}{","b":{"c":1}} {"x":2}`)
	require.True(t, ok)
	assert.Equal(t, `{"a":"}{","b":{"c":1}}`, obj)

	_, ok = firstBalancedObject(`{"a":{`)
	assert.False(t, ok)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1`, stripFences("```\n{\"a\":1"))
	assert.Equal(t, `{"a":1}`, stripFences("```text\nnope\n```\n```json\n{\"a\":1}\n```"))
}
