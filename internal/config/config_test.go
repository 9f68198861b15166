package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequired(t *testing.T) {
	env := FromMap(map[string]string{"JOB_NAME": "  cdk-glue-etl-job ", "BLANK": "   "})

	v, err := Required(env, "JOB_NAME")
	require.NoError(t, err)
	assert.Equal(t, "cdk-glue-etl-job", v)

	for _, key := range []string{"BLANK", "MISSING"} {
		_, err := Required(env, key)
		var cfgErr *Error
		require.True(t, errors.As(err, &cfgErr), "key %s", key)
		assert.Equal(t, key, cfgErr.Key)
		assert.Equal(t, "missing env "+key, err.Error())
	}
}

func TestRequiredNilEnv(t *testing.T) {
	_, err := Required(nil, "JOB_NAME")
	assert.Error(t, err)
}

func TestInt32(t *testing.T) {
	tt := []struct {
		name  string
		value string
		want  int32
		err   string
	}{
		{name: "unset uses default", want: 10},
		{name: "explicit", value: "30", want: 30},
		{name: "not a number", value: "ten", err: `invalid env T: "ten" is not an integer`},
		{name: "zero", value: "0", err: "invalid env T: 0 must be positive"},
		{name: "negative", value: "-5", err: "invalid env T: -5 must be positive"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Int32(FromMap(map[string]string{"T": tc.value}), "T", 10)
			if tc.err != "" {
				require.EqualError(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBoolAndDuration(t *testing.T) {
	env := FromMap(map[string]string{"B": "false", "BAD": "maybe", "D": "90s", "ND": "-1s"})

	b, err := Bool(env, "B", true)
	require.NoError(t, err)
	assert.False(t, b)

	b, err = Bool(env, "UNSET", true)
	require.NoError(t, err)
	assert.True(t, b)

	_, err = Bool(env, "BAD", true)
	assert.Error(t, err)

	d, err := Duration(env, "D", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	d, err = Duration(env, "UNSET", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = Duration(env, "ND", time.Minute)
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	env := FromMap(map[string]string{"L": " s3-csv-crawler, ,s3-parquet-crawler ,"})
	assert.Equal(t, []string{"s3-csv-crawler", "s3-parquet-crawler"}, List(env, "L"))
	assert.Nil(t, List(env, "NONE"))
}

func TestString(t *testing.T) {
	env := FromMap(map[string]string{"S": "x"})
	assert.Equal(t, "x", String(env, "S", "d"))
	assert.Equal(t, "d", String(env, "U", "d"))
}
