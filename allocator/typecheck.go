package allocator

import "reflect"

// containsPointers reports whether values of t hold anything the GC must trace.
// Blocks handed to allocators are plain bytes, so such values would be invisible to it.
func containsPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Array:
		return t.Len() > 0 && containsPointers(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if containsPointers(t.Field(i).Type) {
				return true
			}
		}
		return false
	case reflect.Ptr, reflect.UnsafePointer, reflect.Map, reflect.Slice, reflect.String,
		reflect.Interface, reflect.Chan, reflect.Func:
		return true
	default:
		return false
	}
}

func assertPointerFree[T any]() {
	t := reflect.TypeOf((*T)(nil)).Elem()
	assertTrue(!containsPointers(t), "type %s contains pointers and cannot live in allocator memory", t)
}
