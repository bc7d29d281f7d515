package embedding

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sbinet/npyio/npz"
)

const npyMemberSuffix = ".npy"

// Artifact maps an utterance file name to its speaker embedding as float32,
// the precision the voice index stores.
type Artifact map[string][]float32

// Keys returns the utterance names in sorted order.
func (a Artifact) Keys() []string {
	return sortedKeys(a)
}

// Member is one stored array in the dtype it was written with. Exactly one
// of F32 and F64 is set.
type Member struct {
	F32 []float32
	F64 []float64
}

// Float32 returns the vector as float32, narrowing f8 members.
func (m Member) Float32() []float32 {
	if m.F64 == nil {
		return m.F32
	}
	vec := make([]float32, len(m.F64))
	for i, v := range m.F64 {
		vec[i] = float32(v)
	}
	return vec
}

func (m Member) value() interface{} {
	if m.F64 != nil {
		return m.F64
	}
	return m.F32
}

// Members maps an utterance file name to its stored array. Merging works on
// Members so vectors are written back bit for bit.
type Members map[string]Member

// Keys returns the utterance names in sorted order.
func (m Members) Keys() []string {
	return sortedKeys(m)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ReadMembers loads every array of the npz file at path, keeping its dtype.
// Arrays other than f4 and f8 are rejected.
func ReadMembers(path string) (Members, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", path, err)
	}
	defer r.Close()

	members := make(Members, len(r.Keys()))
	for _, name := range r.Keys() {
		m, err := readMember(r, name)
		if err != nil {
			return nil, fmt.Errorf("read %s from %s: %w", name, path, err)
		}
		members[strings.TrimSuffix(name, npyMemberSuffix)] = m
	}
	return members, nil
}

func readMember(r *npz.Reader, name string) (Member, error) {
	var f32 []float32
	if err := r.Read(name, &f32); err == nil {
		return Member{F32: f32}, nil
	}

	var f64 []float64
	if err := r.Read(name, &f64); err != nil {
		return Member{}, fmt.Errorf("expected f4 or f8 array: %w", err)
	}
	return Member{F64: f64}, nil
}

// ReadArtifact loads the npz file at path as float32 vectors.
func ReadArtifact(path string) (Artifact, error) {
	members, err := ReadMembers(path)
	if err != nil {
		return nil, err
	}
	art := make(Artifact, len(members))
	for key, m := range members {
		art[key] = m.Float32()
	}
	return art, nil
}

// ReadKeys lists the utterance names stored in the npz file at path
// without decoding the arrays.
func ReadKeys(path string) ([]string, error) {
	r, err := npz.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact %s: %w", path, err)
	}
	defer r.Close()

	members := r.Keys()
	keys := make([]string, 0, len(members))
	for _, member := range members {
		keys = append(keys, strings.TrimSuffix(member, npyMemberSuffix))
	}
	sort.Strings(keys)
	return keys, nil
}

// WriteMembers writes members to path as an npz file with one member per
// utterance, in sorted key order. Each array keeps its dtype.
func WriteMembers(path string, members Members) error {
	w, err := npz.Create(path)
	if err != nil {
		return fmt.Errorf("create artifact %s: %w", path, err)
	}

	for _, key := range members.Keys() {
		if err := w.Write(key+npyMemberSuffix, members[key].value()); err != nil {
			w.Close()
			return fmt.Errorf("write %s to %s: %w", key, path, err)
		}
	}

	if err := w.Close(); err != nil {
		return fmt.Errorf("close artifact %s: %w", path, err)
	}
	return nil
}

// WriteArtifact writes art to path with f4 members.
func WriteArtifact(path string, art Artifact) error {
	members := make(Members, len(art))
	for key, vec := range art {
		members[key] = Member{F32: vec}
	}
	return WriteMembers(path, members)
}
